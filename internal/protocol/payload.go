package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// Response payloads are little-endian binary with explicit element counts.
// Strings and decimals travel as uint16-length-prefixed UTF-8; money is a
// decimal string so no float ever carries a balance. Request payloads are
// colon-joined UTF-8 fields except trade sends, which use the binary offer
// layout below.

// Builder accumulates a binary payload.
type Builder struct {
	buf []byte
}

func (b *Builder) U8(v uint8)   { b.buf = append(b.buf, v) }
func (b *Builder) U16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *Builder) U32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *Builder) U64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }

func (b *Builder) Bool(v bool) {
	if v {
		b.U8(1)
	} else {
		b.U8(0)
	}
}

func (b *Builder) String(s string) {
	b.U16(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Builder) Decimal(d decimal.Decimal) { b.String(d.String()) }

func (b *Builder) Float(f float64) { b.String(strconv.FormatFloat(f, 'f', -1, 64)) }

func (b *Builder) Time(t time.Time) { b.U64(uint64(t.Unix())) }

func (b *Builder) Bytes() []byte { return b.buf }

// Reader consumes a binary payload. The first decode failure sticks; Err
// reports it after a batch of reads, so call sites stay linear.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(p []byte) *Reader { return &Reader{buf: p} }

func (r *Reader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("protocol: truncated payload at offset %d", r.off)
	}
}

func (r *Reader) U8() uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.fail()
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *Reader) U16() uint16 {
	if r.err != nil || r.off+2 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *Reader) U32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) U64() uint64 {
	if r.err != nil || r.off+8 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) String() string {
	n := int(r.U16())
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail()
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *Reader) Decimal() decimal.Decimal {
	s := r.String()
	if r.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		r.err = fmt.Errorf("protocol: bad decimal %q: %w", s, err)
		return decimal.Zero
	}
	return d
}

func (r *Reader) Float() float64 {
	s := r.String()
	if r.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.err = fmt.Errorf("protocol: bad float %q: %w", s, err)
		return 0
	}
	return f
}

func (r *Reader) Time() time.Time { return time.Unix(int64(r.U64()), 0).UTC() }

func (r *Reader) Err() error { return r.err }

// ————————————————————————————————————————————————————————————————————————
// Request helpers
// ————————————————————————————————————————————————————————————————————————

// Fields splits a colon-joined UTF-8 request payload and checks arity.
func Fields(payload []byte, want int) ([]string, error) {
	parts := strings.Split(string(payload), ":")
	if len(parts) != want {
		return nil, Errf(CodeInvalidRequest, "expected %d fields, got %d", want, len(parts))
	}
	return parts, nil
}

// ParseID parses one decimal id field.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, Errf(CodeInvalidRequest, "bad id %q", s)
	}
	return id, nil
}

// ————————————————————————————————————————————————————————————————————————
// Struct codecs
// ————————————————————————————————————————————————————————————————————————

// EncodeSkin lays out the full public shape of an instance.
func EncodeSkin(s *types.SkinInstance) []byte {
	var b Builder
	b.U32(uint32(s.ID))
	b.U32(uint32(s.DefinitionID))
	b.String(s.Name)
	b.U8(uint8(s.Rarity))
	b.Float(s.Wear)
	b.U16(uint16(s.PatternSeed))
	b.Bool(s.StatTrak)
	b.U32(uint32(s.OwnerID))
	b.Time(s.AcquiredAt)
	b.Bool(s.Tradable)
	b.Decimal(s.CurrentPrice)
	return b.Bytes()
}

// DecodeSkin is the inverse of EncodeSkin.
func DecodeSkin(p []byte) (*types.SkinInstance, error) {
	r := NewReader(p)
	s := &types.SkinInstance{
		ID:           int64(r.U32()),
		DefinitionID: int64(r.U32()),
		Name:         r.String(),
		Rarity:       types.Rarity(r.U8()),
		Wear:         r.Float(),
		PatternSeed:  int(r.U16()),
		StatTrak:     r.Bool(),
		OwnerID:      int64(r.U32()),
		AcquiredAt:   r.Time(),
		Tradable:     r.Bool(),
		CurrentPrice: r.Decimal(),
	}
	return s, r.Err()
}

// EncodeUser lays out the public profile shape. The password digest never
// crosses the wire.
func EncodeUser(u *types.User) []byte {
	var b Builder
	b.U32(uint32(u.ID))
	b.String(u.Username)
	b.Decimal(u.Balance)
	b.Time(u.CreatedAt)
	b.Time(u.LastLogin)
	b.Bool(u.Banned)
	return b.Bytes()
}

// DecodeUser is the inverse of EncodeUser.
func DecodeUser(p []byte) (*types.User, error) {
	r := NewReader(p)
	u := &types.User{
		ID:        int64(r.U32()),
		Username:  r.String(),
		Balance:   r.Decimal(),
		CreatedAt: r.Time(),
		LastLogin: r.Time(),
		Banned:    r.Bool(),
	}
	return u, r.Err()
}

func encodeListing(b *Builder, l *types.MarketListing) {
	b.U32(uint32(l.ID))
	b.U32(uint32(l.SellerID))
	b.U32(uint32(l.InstanceID))
	b.Decimal(l.Price)
	b.Time(l.ListedAt)
	b.Bool(l.Sold)
	b.String(l.SkinName)
	b.U8(uint8(l.Rarity))
	b.Float(l.Wear)
	b.Bool(l.StatTrak)
}

// EncodeListings lays out a count-prefixed array of listings.
func EncodeListings(ls []types.MarketListing) []byte {
	var b Builder
	b.U16(uint16(len(ls)))
	for i := range ls {
		encodeListing(&b, &ls[i])
	}
	return b.Bytes()
}

// DecodeListings is the inverse of EncodeListings.
func DecodeListings(p []byte) ([]types.MarketListing, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.MarketListing, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.MarketListing{
			ID:         int64(r.U32()),
			SellerID:   int64(r.U32()),
			InstanceID: int64(r.U32()),
			Price:      r.Decimal(),
			ListedAt:   r.Time(),
			Sold:       r.Bool(),
			SkinName:   r.String(),
			Rarity:     types.Rarity(r.U8()),
			Wear:       r.Float(),
			StatTrak:   r.Bool(),
		})
	}
	return out, r.Err()
}

func encodeOffer(b *Builder, o *types.TradeOffer) {
	b.U32(uint32(o.ID))
	b.U32(uint32(o.FromUser))
	b.U32(uint32(o.ToUser))
	b.U8(uint8(len(o.Offered)))
	for _, id := range o.Offered {
		b.U32(uint32(id))
	}
	b.Decimal(o.OfferedCash)
	b.U8(uint8(len(o.Requested)))
	for _, id := range o.Requested {
		b.U32(uint32(id))
	}
	b.Decimal(o.RequestedCash)
	b.String(string(o.Status))
	b.Time(o.CreatedAt)
	b.Time(o.ExpiresAt)
}

// EncodeOffer lays out one trade offer.
func EncodeOffer(o *types.TradeOffer) []byte {
	var b Builder
	encodeOffer(&b, o)
	return b.Bytes()
}

// EncodeOffers lays out a count-prefixed array of offers.
func EncodeOffers(os []types.TradeOffer) []byte {
	var b Builder
	b.U16(uint16(len(os)))
	for i := range os {
		encodeOffer(&b, &os[i])
	}
	return b.Bytes()
}

func decodeOffer(r *Reader) types.TradeOffer {
	o := types.TradeOffer{
		ID:       int64(r.U32()),
		FromUser: int64(r.U32()),
		ToUser:   int64(r.U32()),
	}
	n := int(r.U8())
	for i := 0; i < n; i++ {
		o.Offered = append(o.Offered, int64(r.U32()))
	}
	o.OfferedCash = r.Decimal()
	n = int(r.U8())
	for i := 0; i < n; i++ {
		o.Requested = append(o.Requested, int64(r.U32()))
	}
	o.RequestedCash = r.Decimal()
	o.Status = types.TradeStatus(r.String())
	o.CreatedAt = r.Time()
	o.ExpiresAt = r.Time()
	return o
}

// DecodeOffer is the inverse of EncodeOffer. For trade-send requests the
// id, status and timestamps are present but ignored by the server.
func DecodeOffer(p []byte) (*types.TradeOffer, error) {
	r := NewReader(p)
	o := decodeOffer(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(o.Offered) > types.MaxTradeItems || len(o.Requested) > types.MaxTradeItems {
		return nil, Errf(CodeInvalidRequest, "too many trade items")
	}
	return &o, nil
}

// DecodeOffers is the inverse of EncodeOffers.
func DecodeOffers(p []byte) ([]types.TradeOffer, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.TradeOffer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, decodeOffer(r))
	}
	return out, r.Err()
}

// EncodeInventory lays out user id + count + instance ids.
func EncodeInventory(userID int64, ids []int64) []byte {
	var b Builder
	b.U32(uint32(userID))
	b.U16(uint16(len(ids)))
	for _, id := range ids {
		b.U32(uint32(id))
	}
	return b.Bytes()
}

// DecodeInventory is the inverse of EncodeInventory.
func DecodeInventory(p []byte) (userID int64, ids []int64, err error) {
	r := NewReader(p)
	userID = int64(r.U32())
	n := int(r.U16())
	for i := 0; i < n; i++ {
		ids = append(ids, int64(r.U32()))
	}
	return userID, ids, r.Err()
}

// EncodeCases lays out a count-prefixed array of case definitions.
func EncodeCases(cs []types.Case) []byte {
	var b Builder
	b.U16(uint16(len(cs)))
	for i := range cs {
		b.U32(uint32(cs[i].ID))
		b.String(cs[i].Name)
		b.Decimal(cs[i].Price)
	}
	return b.Bytes()
}

// DecodeCases is the inverse of EncodeCases.
func DecodeCases(p []byte) ([]types.Case, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.Case, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.Case{
			ID:    int64(r.U32()),
			Name:  r.String(),
			Price: r.Decimal(),
		})
	}
	return out, r.Err()
}

// EncodeProgress lays out quests then achievements, each count-prefixed.
func EncodeProgress(qs []types.Quest, as []types.Achievement) []byte {
	var b Builder
	b.U16(uint16(len(qs)))
	for i := range qs {
		b.String(qs[i].Type)
		b.Decimal(qs[i].Progress)
		b.Decimal(qs[i].Target)
		b.Bool(qs[i].Completed)
	}
	b.U16(uint16(len(as)))
	for i := range as {
		b.String(as[i].Type)
		b.Bool(as[i].Unlocked)
	}
	return b.Bytes()
}

// DecodeProgress is the inverse of EncodeProgress.
func DecodeProgress(p []byte) ([]types.Quest, []types.Achievement, error) {
	r := NewReader(p)
	nq := int(r.U16())
	qs := make([]types.Quest, 0, nq)
	for i := 0; i < nq; i++ {
		qs = append(qs, types.Quest{
			Type:      r.String(),
			Progress:  r.Decimal(),
			Target:    r.Decimal(),
			Completed: r.Bool(),
		})
	}
	na := int(r.U16())
	as := make([]types.Achievement, 0, na)
	for i := 0; i < na; i++ {
		as = append(as, types.Achievement{
			Type:     r.String(),
			Unlocked: r.Bool(),
		})
	}
	return qs, as, r.Err()
}

// EncodeChatHistory lays out a count-prefixed array of chat lines,
// oldest first.
func EncodeChatHistory(ms []types.ChatMessage) []byte {
	var b Builder
	b.U16(uint16(len(ms)))
	for i := range ms {
		b.U32(uint32(ms[i].UserID))
		b.String(ms[i].Text)
		b.Time(ms[i].SentAt)
	}
	return b.Bytes()
}

// DecodeChatHistory is the inverse of EncodeChatHistory.
func DecodeChatHistory(p []byte) ([]types.ChatMessage, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.ChatMessage{
			UserID: int64(r.U32()),
			Text:   r.String(),
			SentAt: r.Time(),
		})
	}
	return out, r.Err()
}

// EncodeTransactions lays out a count-prefixed ledger excerpt.
func EncodeTransactions(ts []types.TransactionLog) []byte {
	var b Builder
	b.U16(uint16(len(ts)))
	for i := range ts {
		b.String(ts[i].Kind)
		b.Decimal(ts[i].Amount)
		b.U32(uint32(ts[i].RefID))
		b.Time(ts[i].LoggedAt)
	}
	return b.Bytes()
}

// DecodeTransactions is the inverse of EncodeTransactions.
func DecodeTransactions(p []byte) ([]types.TransactionLog, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.TransactionLog, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.TransactionLog{
			Kind:     r.String(),
			Amount:   r.Decimal(),
			RefID:    int64(r.U32()),
			LoggedAt: r.Time(),
		})
	}
	return out, r.Err()
}

// EncodePriceHistory lays out a count-prefixed price history for one
// definition.
func EncodePriceHistory(es []types.PriceHistoryEntry) []byte {
	var b Builder
	b.U16(uint16(len(es)))
	for i := range es {
		b.U8(uint8(es[i].Side))
		b.Decimal(es[i].Price)
		b.Time(es[i].RecordedAt)
	}
	return b.Bytes()
}

// DecodePriceHistory is the inverse of EncodePriceHistory.
func DecodePriceHistory(p []byte) ([]types.PriceHistoryEntry, error) {
	r := NewReader(p)
	n := int(r.U16())
	out := make([]types.PriceHistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.PriceHistoryEntry{
			Side:       int(r.U8()),
			Price:      r.Decimal(),
			RecordedAt: r.Time(),
		})
	}
	return out, r.Err()
}

// EncodeError lays out the uniform ERROR payload.
func EncodeError(origType uint16, code ErrorCode) []byte {
	var b Builder
	b.U16(origType)
	b.U32(uint32(code))
	return b.Bytes()
}

// DecodeError is the inverse of EncodeError.
func DecodeError(p []byte) (origType uint16, code ErrorCode, err error) {
	r := NewReader(p)
	origType = r.U16()
	code = ErrorCode(r.U32())
	return origType, code, r.Err()
}
