package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"
)

// DefaultWindow is the dedup time bucket width.
const DefaultWindow = 24 * time.Hour

// DefaultTypeKeys lists, per signal type, the metadata fields that identify
// one occurrence when no idempotency key is supplied.
var DefaultTypeKeys = map[string][]string{ //nolint:gochecknoglobals // default registry
	"repo_star":         {"repo"},
	"repo_fork":         {"repo"},
	"package_download":  {"package", "version"},
	"community_mention": {"url"},
	"api_call":          {"request_id"},
	"page_view":         {"url"},
}

// KeyInput carries the signal fields a dedup key is derived from.
type KeyInput struct {
	OrganizationID string
	SourceID       string
	Type           string
	ActorID        string
	AnonymousID    string
	IdempotencyKey string
	Metadata       map[string]any
	Timestamp      time.Time
}

// Keyer derives dedup keys and claims.
type Keyer struct {
	window   time.Duration
	typeKeys map[string][]string
}

// NewKeyer returns a Keyer bucketing by window. extra adds to or overrides
// DefaultTypeKeys.
func NewKeyer(window time.Duration, extra map[string][]string) *Keyer {
	if window <= 0 {
		window = DefaultWindow
	}
	keys := maps.Clone(DefaultTypeKeys)
	for typ, fields := range extra {
		if len(fields) > 0 {
			keys[typ] = fields
		}
	}
	return &Keyer{window: window, typeKeys: keys}
}

// Window returns the bucket width.
func (k *Keyer) Window() time.Duration { return k.window }

// Bucket returns the start of the time bucket holding ts.
func (k *Keyer) Bucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(k.window)
}

// Derive returns the dedup key of in and whether the signal is dedup-eligible.
// A signal is eligible when it carries an idempotency key, or when it has an
// identity and every metadata field registered for its type.
func (k *Keyer) Derive(in KeyInput) (string, bool) {
	identity := normalizeIdentity(in.ActorID, in.AnonymousID)

	var discriminator string
	switch {
	case strings.TrimSpace(in.IdempotencyKey) != "":
		discriminator = "idem:" + strings.TrimSpace(in.IdempotencyKey)
	case identity != "":
		digest, ok := k.metadataDigest(in.Type, in.Metadata)
		if !ok {
			return "", false
		}
		discriminator = "meta:" + digest
	default:
		return "", false
	}

	parts := []string{
		in.OrganizationID,
		in.SourceID,
		in.Type,
		identity,
		discriminator,
		strconv.FormatInt(k.Bucket(in.Timestamp).Unix(), 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:]), true
}

// Claim builds the claim for key, taken at now. Claims outlive their bucket
// by one window so late arrivals for the same bucket are still caught, and
// live at least one window past now so back-dated re-deliveries are too.
func (k *Keyer) Claim(orgID, sourceID, key string, ts, now time.Time) Claim {
	expires := k.Bucket(ts).Add(2 * k.window)
	if floor := now.UTC().Add(k.window); expires.Before(floor) {
		expires = floor
	}
	return Claim{
		OrganizationID: orgID,
		SourceID:       sourceID,
		Key:            key,
		ExpiresAt:      expires,
	}
}

func normalizeIdentity(actorID, anonymousID string) string {
	if a := strings.TrimSpace(actorID); a != "" {
		return a
	}
	return strings.ToLower(strings.TrimSpace(anonymousID))
}

// metadataDigest renders the registered fields of typ as field=value pairs.
// It fails when the type is unregistered or a field is missing or empty.
func (k *Keyer) metadataDigest(typ string, metadata map[string]any) (string, bool) {
	fields, ok := k.typeKeys[typ]
	if !ok || len(fields) == 0 {
		return "", false
	}
	var b strings.Builder
	for i, f := range fields {
		v, ok := canonicalValue(metadata[f])
		if !ok {
			return "", false
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), true
}

func canonicalValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}
