package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// Metadata keys of a sealed snapshot.
const (
	metaUser      = "userId"
	metaCoupon    = "couponCode"
	metaTotal     = "total"
	metaChunks    = "products_n"
	metaSignature = "signature"

	// chunkSize keeps each products_<i> value under the card provider's
	// 500 character metadata value limit.
	chunkSize = 450
	// maxChunks bounds products_n so the session stays within the
	// provider's 50 key limit.
	maxChunks = 40
)

func chunkKey(i int) string { return "products_" + strconv.Itoa(i) }

// ErrSnapshotTampered is returned when sealed metadata fails verification.
var ErrSnapshotTampered = errors.New("snapshot signature mismatch")

// Snapshot is the priced cart captured when a card session is created.
// It travels with the session as provider metadata.
type Snapshot struct {
	OwnerUserID string
	CouponCode  string
	Total       pricing.Amount
	Lines       []order.Line
}

// Signer seals snapshots into tamper-evident string metadata.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer keyed with secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{key: secret}
}

// ErrSnapshotTooLarge is returned by Seal when the encoded lines do not fit
// in the provider metadata.
var ErrSnapshotTooLarge = errors.New("snapshot exceeds metadata limits")

// Seal encodes s as flat metadata with an HMAC-SHA256 signature. The encoded
// lines are spread over products_0..products_<n-1>, all of them signed.
func (s *Signer) Seal(snap Snapshot) (map[string]string, error) {
	chunks := splitChunks(encodeLines(snap.Lines), chunkSize)
	if len(chunks) > maxChunks {
		return nil, ErrSnapshotTooLarge
	}
	meta := map[string]string{
		metaUser:   snap.OwnerUserID,
		metaCoupon: snap.CouponCode,
		metaTotal:  strconv.FormatInt(int64(snap.Total), 10),
		metaChunks: strconv.Itoa(len(chunks)),
	}
	for i, c := range chunks {
		meta[chunkKey(i)] = c
	}
	meta[metaSignature] = s.sign(meta, len(chunks))
	return meta, nil
}

// Open verifies and decodes metadata produced by Seal.
func (s *Signer) Open(meta map[string]string) (*Snapshot, error) {
	got, err := hex.DecodeString(meta[metaSignature])
	if err != nil || len(got) == 0 {
		return nil, ErrSnapshotTampered
	}
	n, err := strconv.Atoi(meta[metaChunks])
	if err != nil || n < 1 || n > maxChunks {
		return nil, ErrSnapshotTampered
	}
	if _, extra := meta[chunkKey(n)]; extra {
		return nil, ErrSnapshotTampered
	}
	var products strings.Builder
	for i := 0; i < n; i++ {
		c, ok := meta[chunkKey(i)]
		if !ok {
			return nil, ErrSnapshotTampered
		}
		products.WriteString(c)
	}
	want, _ := hex.DecodeString(s.sign(meta, n))
	if !hmac.Equal(got, want) {
		return nil, ErrSnapshotTampered
	}

	total, err := strconv.ParseInt(meta[metaTotal], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse total")
	}
	lines, err := decodeLines(products.String())
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	if meta[metaUser] == "" || len(lines) == 0 {
		return nil, errors.New("incomplete snapshot")
	}
	return &Snapshot{
		OwnerUserID: meta[metaUser],
		CouponCode:  meta[metaCoupon],
		Total:       pricing.Amount(total),
		Lines:       lines,
	}, nil
}

func (s *Signer) sign(meta map[string]string, chunks int) string {
	mac := hmac.New(sha256.New, s.key)
	keys := []string{metaUser, metaCoupon, metaTotal, metaChunks}
	for i := 0; i < chunks; i++ {
		keys = append(keys, chunkKey(i))
	}
	for _, k := range keys {
		mac.Write([]byte(meta[k]))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// splitChunks cuts s into pieces of at most size bytes without splitting
// a UTF-8 sequence.
func splitChunks(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

// encodeLines writes lines as a compact JSON array. Keys are short because
// card provider metadata values are length-limited.
func encodeLines(lines []order.Line) string {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(l.ProductID)
		e.FieldStart("q")
		e.Int(l.Quantity)
		e.FieldStart("p")
		e.Int64(int64(l.Price))
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.String()
}

func decodeLines(raw string) ([]order.Line, error) {
	var lines []order.Line
	err := jx.DecodeStr(raw).Arr(func(d *jx.Decoder) error {
		var l order.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				l.ProductID, err = d.Str()
			case "q":
				l.Quantity, err = d.Int()
			case "p":
				var v int64
				v, err = d.Int64()
				l.Price = pricing.Amount(v)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}
