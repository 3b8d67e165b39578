package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

func TestReaderStopsAtTruncation(t *testing.T) {
	t.Parallel()

	var b Builder
	b.U32(7)
	b.String("hello")

	r := NewReader(b.Bytes()[:5]) // cuts the string short
	if got := r.U32(); got != 7 {
		t.Fatalf("U32 = %d, want 7", got)
	}
	_ = r.String()
	if r.Err() == nil {
		t.Fatal("expected truncation error")
	}
	// Later reads stay zero-valued, the first error sticks.
	if r.U64() != 0 || r.Err() == nil {
		t.Fatal("reads after error must be inert")
	}
}

func TestReaderBadDecimal(t *testing.T) {
	t.Parallel()

	var b Builder
	b.String("not-a-number")
	r := NewReader(b.Bytes())
	r.Decimal()
	if r.Err() == nil {
		t.Fatal("expected decimal parse error")
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	f, err := Fields([]byte("alice:secret"), 2)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if f[0] != "alice" || f[1] != "secret" {
		t.Fatalf("Fields = %v", f)
	}
	if _, err := Fields([]byte("alice"), 2); err == nil {
		t.Fatal("expected arity error")
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	if id, err := ParseID("42"); err != nil || id != 42 {
		t.Fatalf("ParseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q) accepted", bad)
		}
	}
}

func TestSkinCodec(t *testing.T) {
	t.Parallel()

	in := &types.SkinInstance{
		ID:           11,
		DefinitionID: 3,
		Name:         "AWP | Man-o'-war",
		Rarity:       types.RarityCovert,
		Wear:         0.1234567891,
		PatternSeed:  661,
		StatTrak:     true,
		OwnerID:      5,
		AcquiredAt:   time.Unix(1700000000, 0).UTC(),
		Tradable:     true,
		CurrentPrice: decimal.RequireFromString("110.40"),
	}
	out, err := DecodeSkin(EncodeSkin(in))
	if err != nil {
		t.Fatalf("DecodeSkin: %v", err)
	}
	if out.Name != in.Name || out.Rarity != in.Rarity || out.Wear != in.Wear ||
		out.PatternSeed != in.PatternSeed || !out.CurrentPrice.Equal(in.CurrentPrice) ||
		!out.AcquiredAt.Equal(in.AcquiredAt) {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func TestOfferCodec(t *testing.T) {
	t.Parallel()

	in := &types.TradeOffer{
		ToUser:        9,
		Offered:       []int64{1, 2, 3},
		OfferedCash:   decimal.RequireFromString("12.50"),
		Requested:     []int64{7},
		RequestedCash: decimal.Zero,
	}
	out, err := DecodeOffer(EncodeOffer(in))
	if err != nil {
		t.Fatalf("DecodeOffer: %v", err)
	}
	if out.ToUser != 9 || len(out.Offered) != 3 || len(out.Requested) != 1 ||
		!out.OfferedCash.Equal(in.OfferedCash) {
		t.Fatalf("offer mismatch: %+v", out)
	}
}

func TestOfferRejectsTooManyItems(t *testing.T) {
	t.Parallel()

	o := &types.TradeOffer{ToUser: 2, OfferedCash: decimal.Zero, RequestedCash: decimal.Zero}
	for i := 0; i < types.MaxTradeItems+1; i++ {
		o.Offered = append(o.Offered, int64(i+1))
	}
	_, err := DecodeOffer(EncodeOffer(o))
	if err == nil {
		t.Fatal("expected rejection")
	}
	if CodeOf(err) != CodeInvalidRequest {
		t.Fatalf("code = %v, want INVALID_REQUEST", CodeOf(err))
	}
}

func TestErrorCodec(t *testing.T) {
	t.Parallel()

	origType, code, err := DecodeError(EncodeError(MsgUnbox, CodeInsufficientFunds))
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if origType != MsgUnbox || code != CodeInsufficientFunds {
		t.Fatalf("got (0x%04X, %v)", origType, code)
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(Errf(CodeTradeLocked, "x")); got != CodeTradeLocked {
		t.Fatalf("CodeOf = %v", got)
	}
	if got := CodeOf(errors.New("plain failure")); got != CodeDatabaseError {
		t.Fatalf("default CodeOf = %v, want DATABASE_ERROR", got)
	}
}
