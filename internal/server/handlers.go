package server

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"skintrade/internal/auth"
	"skintrade/internal/hooks"
	"skintrade/internal/market"
	"skintrade/internal/protocol"
	"skintrade/internal/store"
	"skintrade/internal/trade"
	"skintrade/internal/unbox"
	"skintrade/pkg/types"
)

// connState is the per-connection session binding. Login stores the token
// here; every later request on the same connection derives its identity
// from it. Only the single in-flight handler touches it, so no lock.
type connState struct {
	token string
}

// Dispatcher routes one decoded frame to its handler and shapes the
// response frame. Every failure becomes an ERROR frame echoing the request
// type and sequence number; only framing errors (handled upstream) close
// the connection.
type Dispatcher struct {
	store  *store.Store
	auth   *auth.Service
	unbox  *unbox.Engine
	market *market.Engine
	trade  *trade.Engine
	hooks  *hooks.Hooks
	logger *slog.Logger
}

// NewDispatcher wires the handler table.
func NewDispatcher(st *store.Store, au *auth.Service, ub *unbox.Engine, mk *market.Engine, tr *trade.Engine, hk *hooks.Hooks, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  st,
		auth:   au,
		unbox:  ub,
		market: mk,
		trade:  tr,
		hooks:  hk,
		logger: logger.With("component", "dispatch"),
	}
}

// Handle processes one request frame and always produces a response frame
// carrying the request's sequence number.
func (d *Dispatcher) Handle(ctx context.Context, cs *connState, req *protocol.Frame) *protocol.Frame {
	respType, payload, err := d.route(ctx, cs, req.Type, req.Payload)
	if err != nil {
		code := protocol.CodeOf(err)
		d.logger.Warn("request failed",
			"msg_type", req.Type, "seq", req.Seq,
			"code", code.String(), "error", err)
		return &protocol.Frame{
			Type:    protocol.MsgError,
			Seq:     req.Seq,
			Payload: protocol.EncodeError(req.Type, code),
		}
	}
	return &protocol.Frame{Type: respType, Seq: req.Seq, Payload: payload}
}

func (d *Dispatcher) route(ctx context.Context, cs *connState, msgType uint16, payload []byte) (uint16, []byte, error) {
	switch msgType {
	case protocol.MsgRegister:
		return d.handleRegister(ctx, payload)
	case protocol.MsgLogin:
		return d.handleLogin(ctx, cs, payload)
	case protocol.MsgLogout:
		return d.handleLogout(ctx, cs, payload)
	case protocol.MsgGetListings:
		return d.handleListings(ctx, cs)
	case protocol.MsgMarketBuy:
		return d.handleBuy(ctx, cs, payload)
	case protocol.MsgMarketSell:
		return d.handleSell(ctx, cs, payload)
	case protocol.MsgMarketDelist:
		return d.handleDelist(ctx, cs, payload)
	case protocol.MsgMarketSearch:
		return d.handleSearch(ctx, cs, payload)
	case protocol.MsgTradeSend:
		return d.handleTradeSend(ctx, cs, payload)
	case protocol.MsgTradeAccept:
		return d.handleTradeAccept(ctx, cs, payload)
	case protocol.MsgTradeDecline:
		return d.handleTradeResolve(ctx, cs, payload, protocol.MsgTradeDecline)
	case protocol.MsgTradeCancel:
		return d.handleTradeResolve(ctx, cs, payload, protocol.MsgTradeCancel)
	case protocol.MsgTradeList:
		return d.handleTradeList(ctx, cs, payload)
	case protocol.MsgInventory:
		return d.handleInventory(ctx, cs, payload)
	case protocol.MsgProfile:
		return d.handleProfile(ctx, cs, payload)
	case protocol.MsgSkinDetail:
		return d.handleSkinDetail(ctx, cs, payload)
	case protocol.MsgUserSearch:
		return d.handleUserSearch(ctx, cs, payload)
	case protocol.MsgUnbox:
		return d.handleUnbox(ctx, cs, payload)
	case protocol.MsgGetCases:
		return d.handleCases(ctx, cs)
	case protocol.MsgQuests:
		return d.handleQuests(ctx, cs)
	case protocol.MsgClaimReward:
		return d.handleClaimReward(ctx, cs)
	case protocol.MsgChat:
		return d.handleChat(ctx, cs, payload)
	case protocol.MsgReport:
		return d.handleReport(ctx, cs, payload)
	case protocol.MsgChatHistory:
		return d.handleChatHistory(ctx, cs)
	case protocol.MsgTxHistory:
		return d.handleTxHistory(ctx, cs)
	case protocol.MsgPriceHistory:
		return d.handlePriceHistory(ctx, cs, payload)
	case protocol.MsgHeartbeat:
		// Answered in-line; no session needed, payload echoed back.
		return protocol.MsgHeartbeat, payload, nil
	default:
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "unknown message type 0x%04X", msgType)
	}
}

// session resolves the connection's bound session. Connections that never
// logged in, or whose binding went stale, read as expired.
func (d *Dispatcher) session(ctx context.Context, cs *connState) (*types.Session, error) {
	if cs.token == "" {
		return nil, protocol.Errf(protocol.CodeSessionExpired, "connection not logged in")
	}
	sess, err := d.auth.ValidateSession(ctx, cs.token)
	if err != nil {
		cs.token = ""
		return nil, err
	}
	return sess, nil
}

// actor resolves the bound session and checks the request's user_id field
// against it. Acting as anyone but the bound user is refused.
func (d *Dispatcher) actor(ctx context.Context, cs *connState, field string) (*types.Session, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return nil, err
	}
	userID, err := protocol.ParseID(field)
	if err != nil {
		return nil, err
	}
	if userID != sess.UserID {
		return nil, protocol.Errf(protocol.CodePermissionDenied,
			"user %d is not bound to this connection", userID)
	}
	return sess, nil
}

// ————————————————————————————————————————————————————————————————————————
// Auth
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleRegister(ctx context.Context, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	id, err := d.auth.Register(ctx, f[0], f[1])
	if err != nil {
		return 0, nil, err
	}
	var b protocol.Builder
	b.U32(uint32(id))
	return protocol.MsgRegisterResp, b.Bytes(), nil
}

func (d *Dispatcher) handleLogin(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	token, userID, err := d.auth.Login(ctx, f[0], f[1])
	if err != nil {
		return 0, nil, err
	}
	// Bind the session to this connection; a re-login replaces the binding.
	cs.token = token
	resp := token + ":" + strconv.FormatInt(userID, 10)
	return protocol.MsgLoginResp, []byte(resp), nil
}

func (d *Dispatcher) handleLogout(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	token := string(payload)
	if err := d.auth.Logout(ctx, token); err != nil {
		return 0, nil, err
	}
	if cs.token == token {
		cs.token = ""
	}
	return protocol.MsgLogout, nil, nil
}

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleListings(ctx context.Context, cs *connState) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	ls, err := d.market.Listings(ctx)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgListingsResp, protocol.EncodeListings(ls), nil
}

func (d *Dispatcher) handleBuy(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	listingID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	if _, err := d.market.Buy(ctx, sess.UserID, listingID); err != nil {
		return 0, nil, err
	}
	return protocol.MsgMarketBuy, nil, nil
}

func (d *Dispatcher) handleSell(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 3)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	instanceID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	price, err := decimal.NewFromString(f[2])
	if err != nil {
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "bad price %q", f[2])
	}
	l, err := d.market.List(ctx, sess.UserID, instanceID, price)
	if err != nil {
		return 0, nil, err
	}
	var b protocol.Builder
	b.U32(uint32(l.ID))
	return protocol.MsgMarketSell, b.Bytes(), nil
}

func (d *Dispatcher) handleDelist(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	listingID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	if err := d.market.Delist(ctx, sess.UserID, listingID); err != nil {
		return 0, nil, err
	}
	return protocol.MsgMarketDelist, nil, nil
}

func (d *Dispatcher) handleSearch(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	ls, err := d.market.Search(ctx, string(payload))
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgListingsResp, protocol.EncodeListings(ls), nil
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleTradeSend(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	offer, err := protocol.DecodeOffer(payload)
	if err != nil {
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "bad trade payload: %v", err)
	}
	if offer.FromUser != 0 && offer.FromUser != sess.UserID {
		return 0, nil, protocol.Errf(protocol.CodePermissionDenied,
			"user %d is not bound to this connection", offer.FromUser)
	}
	offer.FromUser = sess.UserID
	sent, err := d.trade.Send(ctx, offer)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgTradeNotify, protocol.EncodeOffer(sent), nil
}

func (d *Dispatcher) handleTradeAccept(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	tradeID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	o, err := d.trade.Accept(ctx, sess.UserID, tradeID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgTradeCompleted, protocol.EncodeOffer(o), nil
}

func (d *Dispatcher) handleTradeResolve(ctx context.Context, cs *connState, payload []byte, msgType uint16) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	tradeID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	if msgType == protocol.MsgTradeDecline {
		err = d.trade.Decline(ctx, sess.UserID, tradeID)
	} else {
		err = d.trade.Cancel(ctx, sess.UserID, tradeID)
	}
	if err != nil {
		return 0, nil, err
	}
	return msgType, nil, nil
}

func (d *Dispatcher) handleTradeList(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	sess, err := d.actor(ctx, cs, string(payload))
	if err != nil {
		return 0, nil, err
	}
	os, err := d.trade.ListActive(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgTradeListResp, protocol.EncodeOffers(os), nil
}

// ————————————————————————————————————————————————————————————————————————
// Read surface
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleInventory(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	userID, err := protocol.ParseID(string(payload))
	if err != nil {
		return 0, nil, err
	}
	if _, err := d.store.UserByID(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return 0, nil, protocol.Errf(protocol.CodeItemNotFound, "user %d", userID)
	} else if err != nil {
		return 0, nil, err
	}
	ids, err := d.store.InventoryIDs(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgInventoryResp, protocol.EncodeInventory(userID, ids), nil
}

func (d *Dispatcher) handleProfile(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	userID, err := protocol.ParseID(string(payload))
	if err != nil {
		return 0, nil, err
	}
	u, err := d.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil, protocol.Errf(protocol.CodeItemNotFound, "user %d", userID)
	}
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgProfileResp, protocol.EncodeUser(u), nil
}

func (d *Dispatcher) handleSkinDetail(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	instanceID, err := protocol.ParseID(string(payload))
	if err != nil {
		return 0, nil, err
	}
	inst, basePrice, err := d.store.InstanceByID(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil, protocol.Errf(protocol.CodeItemNotFound, "instance %d", instanceID)
	}
	if err != nil {
		return 0, nil, err
	}
	inst.CurrentPrice = d.unbox.Appraise(inst.Rarity, inst.Wear, basePrice)
	return protocol.MsgSkinDetailResp, protocol.EncodeSkin(inst), nil
}

func (d *Dispatcher) handleUserSearch(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	term := string(payload)
	us, err := d.store.SearchUsers(ctx, term)
	if err != nil {
		return 0, nil, err
	}
	if len(us) == 0 {
		return 0, nil, protocol.Errf(protocol.CodeItemNotFound, "no user matching %q", term)
	}
	// Exact match wins over the first substring hit.
	match := us[0]
	for i := range us {
		if us[i].Username == term {
			match = us[i]
			break
		}
	}
	u, err := d.store.UserByID(ctx, match.ID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgUserSearchResp, protocol.EncodeUser(u), nil
}

func (d *Dispatcher) handleCases(ctx context.Context, cs *connState) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	cases, err := d.store.Cases(ctx)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgGetCasesResp, protocol.EncodeCases(cases), nil
}

// ————————————————————————————————————————————————————————————————————————
// Unbox
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleUnbox(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	f, err := protocol.Fields(payload, 2)
	if err != nil {
		return 0, nil, err
	}
	sess, err := d.actor(ctx, cs, f[0])
	if err != nil {
		return 0, nil, err
	}
	caseID, err := protocol.ParseID(f[1])
	if err != nil {
		return 0, nil, err
	}
	inst, err := d.unbox.Open(ctx, sess.UserID, caseID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgUnboxResp, protocol.EncodeSkin(inst), nil
}

// ————————————————————————————————————————————————————————————————————————
// Progression, chat, moderation
// ————————————————————————————————————————————————————————————————————————

func (d *Dispatcher) handleQuests(ctx context.Context, cs *connState) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	qs, err := d.store.QuestsFor(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	as, err := d.store.AchievementsFor(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgQuestsResp, protocol.EncodeProgress(qs, as), nil
}

func (d *Dispatcher) handleClaimReward(ctx context.Context, cs *connState) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	reward, err := d.hooks.ClaimDailyReward(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	var b protocol.Builder
	b.Decimal(reward)
	return protocol.MsgClaimRewardOK, b.Bytes(), nil
}

func (d *Dispatcher) handleChat(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "empty chat message")
	}
	if err := d.hooks.Chat(ctx, sess.UserID, text); err != nil {
		return 0, nil, err
	}
	return protocol.MsgChat, nil, nil
}

func (d *Dispatcher) handleReport(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	// "reported_id:reason"; the reason is free text and may contain colons.
	idField, reason, ok := strings.Cut(string(payload), ":")
	if !ok {
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "expected reported id and reason")
	}
	reportedID, err := protocol.ParseID(idField)
	if err != nil {
		return 0, nil, err
	}
	if reportedID == sess.UserID {
		return 0, nil, protocol.Errf(protocol.CodeInvalidRequest, "cannot report yourself")
	}
	if err := d.hooks.Report(ctx, sess.UserID, reportedID, reason); err != nil {
		return 0, nil, err
	}
	return protocol.MsgReport, nil, nil
}

const chatHistoryLimit = 50

func (d *Dispatcher) handleChatHistory(ctx context.Context, cs *connState) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	ms, err := d.store.RecentChat(ctx, chatHistoryLimit)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgChatHistResp, protocol.EncodeChatHistory(ms), nil
}

func (d *Dispatcher) handleTxHistory(ctx context.Context, cs *connState) (uint16, []byte, error) {
	sess, err := d.session(ctx, cs)
	if err != nil {
		return 0, nil, err
	}
	ts, err := d.store.TransactionsFor(ctx, sess.UserID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgTxHistoryResp, protocol.EncodeTransactions(ts), nil
}

func (d *Dispatcher) handlePriceHistory(ctx context.Context, cs *connState, payload []byte) (uint16, []byte, error) {
	if _, err := d.session(ctx, cs); err != nil {
		return 0, nil, err
	}
	definitionID, err := protocol.ParseID(string(payload))
	if err != nil {
		return 0, nil, err
	}
	es, err := d.store.PriceHistoryFor(ctx, definitionID)
	if err != nil {
		return 0, nil, err
	}
	return protocol.MsgPriceHistResp, protocol.EncodePriceHistory(es), nil
}
