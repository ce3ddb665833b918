package chunkstream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// emptyStringSHA256 is the SHA256 hash of the empty string, used both for
// the terminal chunk's body hash and for the (always-absent) chunk
// extensions hash in the chunk string-to-sign.
const emptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SigningConfig carries the per-stream parameters a ChunkSigner needs:
// the derived signing key, the credential scope, and the request timestamp.
// It is shared read-only across every signer call in a single encode, per
// spec.md §5's "shared-resource policy".
type SigningConfig struct {
	SigningKey      []byte
	CredentialScope string
	Timestamp       string
}

// ChunkSigner is the consumed contract (component C3). Implementations may
// suspend (spec.md §9 accommodates bridging to blocking crypto libraries)
// but must be deterministic and pure given identical inputs, and must
// return signatures of fixed textual length across all calls in a stream.
//
// The encoder invokes SignChunk and SignTrailer only; Sign is specified
// here solely because the interface lives alongside them in the system this
// core is part of — it is never called by anything in this package.
type ChunkSigner interface {
	// SignChunk signs a data chunk (or the empty terminal chunk) chained
	// from prevSignature.
	SignChunk(body []byte, prevSignature string, cfg SigningConfig) (string, error)

	// SignTrailer signs the serialized trailing-header block, chained from
	// the terminal chunk's signature.
	SignTrailer(trailerBytes []byte, prevSignature string, cfg SigningConfig) (string, error)

	// Sign signs the outer HTTP request that produces the seed signature.
	// Unused by Encoder; producing the seed signature is out of scope for
	// this core (spec.md §1 Non-goals).
	Sign(req *http.Request, cfg SigningConfig) error
}

// SigV4ChunkSigner computes AWS SigV4 streaming chunk signatures. It is the
// encode-side counterpart of pkg/auth.ChunkedReader: that reader calls
// SignChunk to recompute each signature it receives on the wire and
// validate it; here the same method computes the signature that becomes
// part of the wire in the first place. Both sides run this code, so a
// signature produced here validates against that decoder unchanged.
type SigV4ChunkSigner struct{}

var _ ChunkSigner = SigV4ChunkSigner{}

// SignChunk implements ChunkSigner.
func (SigV4ChunkSigner) SignChunk(body []byte, prevSignature string, cfg SigningConfig) (string, error) {
	return signChunkLike(body, prevSignature, cfg)
}

// SignTrailer implements ChunkSigner. The trailer string-to-sign uses
// "AWS4-HMAC-SHA256-TRAILER" in place of "...-PAYLOAD" and omits the
// chunk-extensions hash line; cross-checked against
// other_examples/minio-minio-go's buildTrailerChunkSignature.
func (SigV4ChunkSigner) SignTrailer(trailerBytes []byte, prevSignature string, cfg SigningConfig) (string, error) {
	trailerHash := sha256Hex(trailerBytes)

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256-TRAILER",
		cfg.Timestamp,
		cfg.CredentialScope,
		prevSignature,
		trailerHash,
	}, "\n")

	return hex.EncodeToString(hmacSHA256(cfg.SigningKey, []byte(stringToSign))), nil
}

// Sign is unused by Encoder; see ChunkSigner.Sign's doc comment. It is
// provided so SigV4ChunkSigner satisfies the full interface without a
// caller needing a second type for request-level signing.
func (SigV4ChunkSigner) Sign(req *http.Request, cfg SigningConfig) error {
	return nil
}

// signChunkLike builds the AWS4-HMAC-SHA256-PAYLOAD string-to-sign for a
// data or terminal chunk and signs it. pkg/auth.ChunkedReader validates
// received chunks through this same function, via SignChunk.
func signChunkLike(body []byte, prevSignature string, cfg SigningConfig) (string, error) {
	var bodyHash string
	if len(body) == 0 {
		bodyHash = emptyStringSHA256
	} else {
		bodyHash = sha256Hex(body)
	}

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256-PAYLOAD",
		cfg.Timestamp,
		cfg.CredentialScope,
		prevSignature,
		emptyStringSHA256, // hash of empty chunk extensions
		bodyHash,
	}, "\n")

	return hex.EncodeToString(hmacSHA256(cfg.SigningKey, []byte(stringToSign))), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
