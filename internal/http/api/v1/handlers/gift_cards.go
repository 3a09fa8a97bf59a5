package handlers

import (
	"net/http"
	"strings"

	"github.com/giftvault/giftvault/internal/fraud"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/redemption"
	"github.com/giftvault/giftvault/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GiftCardHandler serves card lookups, redemptions, and redemption links.
type GiftCardHandler struct {
	engine *redemption.Engine
	gate   *fraud.Gate
	links  *security.LinkSigner
}

// NewGiftCardHandler constructs a GiftCardHandler. gate and links may be nil.
func NewGiftCardHandler(engine *redemption.Engine, gate *fraud.Gate, links *security.LinkSigner) *GiftCardHandler {
	return &GiftCardHandler{engine: engine, gate: gate, links: links}
}

func (h *GiftCardHandler) store() *ledger.Store { return h.engine.Store() }

// Get returns a card by code.
func (h *GiftCardHandler) Get(c *gin.Context) {
	card, errGet := h.store().GetByCode(c.Request.Context(), c.Param("code"))
	if errGet != nil {
		writeError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, toGiftCardDTO(card))
}

// List returns cards filtered by merchant, status, and expiry window.
func (h *GiftCardHandler) List(c *gin.Context) {
	merchantID, errMerchant := parseOptionalUint(c.Query("merchant_id"))
	if errMerchant != nil {
		badRequest(c, errMerchant.Error())
		return
	}
	expiresBefore, errBefore := parseOptionalTime(c.Query("expires_before"))
	if errBefore != nil {
		badRequest(c, errBefore.Error())
		return
	}
	afterID, errAfter := parseOptionalUint(c.Query("after_id"))
	if errAfter != nil {
		badRequest(c, errAfter.Error())
		return
	}
	filter := ledger.CardFilter{MerchantID: merchantID, ExpiresBefore: expiresBefore, Limit: 100}
	if afterID != nil {
		filter.AfterID = *afterID
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.ToUpper(strings.TrimSpace(raw)); raw != "" {
			filter.Statuses = append(filter.Statuses, models.GiftCardStatus(raw))
		}
	}

	cards, errList := h.store().List(c.Request.Context(), filter)
	if errList != nil {
		writeError(c, errList)
		return
	}
	out := make([]giftCardDTO, 0, len(cards))
	for i := range cards {
		out = append(out, toGiftCardDTO(&cards[i]))
	}
	c.JSON(http.StatusOK, gin.H{"giftCards": out})
}

// Transactions returns the card's ledger in order.
func (h *GiftCardHandler) Transactions(c *gin.Context) {
	ctx := c.Request.Context()
	card, errGet := h.store().GetByCode(ctx, c.Param("code"))
	if errGet != nil {
		writeError(c, errGet)
		return
	}
	entries, errList := h.store().Transactions(ctx, card.ID)
	if errList != nil {
		writeError(c, errList)
		return
	}
	out := make([]transactionDTO, 0, len(entries))
	for i := range entries {
		out = append(out, toTransactionDTO(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"card": toGiftCardDTO(card), "transactions": out})
}

// redeemRequest is the body of a redemption.
type redeemRequest struct {
	Amount     int64  `json:"amount"`
	MerchantID uint64 `json:"merchantId"`
	Method     string `json:"method"`
	ActorID    string `json:"actorId"`
}

type redeemResponse struct {
	Card           giftCardDTO `json:"card"`
	RedemptionID   uint64      `json:"redemptionId"`
	TransactionID  uint64      `json:"transactionId"`
	Amount         int64       `json:"amount"`
	Balance        int64       `json:"balance"`
	DisplayBalance string      `json:"displayBalance"`
	FullyRedeemed  bool        `json:"fullyRedeemed"`
}

// Redeem takes value from a card identified by code.
func (h *GiftCardHandler) Redeem(c *gin.Context) {
	var body redeemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	method := models.RedemptionMethod(strings.ToUpper(strings.TrimSpace(body.Method)))
	if method == "" {
		method = models.RedemptionMethodCodeEntry
	}
	h.redeem(c, ledger.CardRef{Code: c.Param("code")}, body, method)
}

func (h *GiftCardHandler) redeem(c *gin.Context, ref ledger.CardRef, body redeemRequest, method models.RedemptionMethod) {
	ctx := c.Request.Context()
	if h.gate != nil {
		decision, errCheck := h.gate.Check(ctx, fraud.CheckInput{
			IPAddress: c.ClientIP(),
			Amount:    body.Amount,
			Action:    fraud.ActionRedeem,
		})
		if errCheck != nil {
			writeError(c, errCheck)
			return
		}
		if errBlocked := decision.Err(); errBlocked != nil {
			writeError(c, errBlocked)
			return
		}
	}

	result, errRedeem := h.engine.Redeem(ctx, redemption.RedeemInput{
		Ref:        ref,
		Amount:     body.Amount,
		ActorID:    body.ActorID,
		MerchantID: body.MerchantID,
		Method:     method,
	})
	if h.gate != nil {
		if errTrack := h.gate.Track(ctx, c.ClientIP(), nil, fraud.ActionRedeem); errTrack != nil {
			log.WithError(errTrack).Warn("track redeem action failed")
		}
	}
	if errRedeem != nil {
		writeError(c, errRedeem)
		return
	}
	c.JSON(http.StatusOK, redeemResponse{
		Card:           toGiftCardDTO(result.Card),
		RedemptionID:   result.Redemption.ID,
		TransactionID:  result.Transaction.ID,
		Amount:         result.Redemption.Amount,
		Balance:        result.Balance,
		DisplayBalance: formatMinor(result.Balance),
		FullyRedeemed:  result.FullyRedeemed,
	})
}

// CreateLink signs a redemption link for a card.
func (h *GiftCardHandler) CreateLink(c *gin.Context) {
	if h.links == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "redemption links are disabled"})
		return
	}
	card, errGet := h.store().GetByCode(c.Request.Context(), c.Param("code"))
	if errGet != nil {
		writeError(c, errGet)
		return
	}
	if card.Status != models.GiftCardStatusActive {
		writeError(c, ledger.Invalid(ledger.ErrInvalidState, "gift card is %s", card.Status))
		return
	}
	token, expiresAt, errSign := h.links.Sign(card.Code, card.MerchantID, card.ExpiryDate)
	if errSign != nil {
		writeError(c, errSign)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "expiresAt": expiresAt})
}

// RedeemLink redeems through a signed link with method LINK.
func (h *GiftCardHandler) RedeemLink(c *gin.Context) {
	if h.links == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "redemption links are disabled"})
		return
	}
	claims, errParse := h.links.Parse(c.Param("token"))
	if errParse != nil {
		writeError(c, errParse)
		return
	}
	var body redeemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.MerchantID == 0 {
		body.MerchantID = claims.MerchantID
	}
	h.redeem(c, ledger.CardRef{Code: claims.Code}, body, models.RedemptionMethodLink)
}
