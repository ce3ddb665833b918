package chunkstream

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func testSigningConfig() SigningConfig {
	return SigningConfig{
		SigningKey:      []byte("test-signing-key"),
		CredentialScope: "20240101/us-east-1/s3/aws4_request",
		Timestamp:       "20240101T000000Z",
	}
}

func TestEncoderSingleFullChunkNoTrailers(t *testing.T) {
	data := bytes.Repeat([]byte{0x7a}, ChunkSize)
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()

	enc := NewEncoder(bytes.NewReader(data), "", signer, cfg, nil)
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig1, err := signer.SignChunk(data, "", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sigTerm, err := signer.SignChunk(nil, sig1, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "10000;chunk-signature=" + sig1 + "\r\n" + string(data) + "\r\n" +
		"0;chunk-signature=" + sigTerm + "\r\n\r\n"

	if string(out) != want {
		t.Fatalf("got %d bytes, want %d bytes; frames differ", len(out), len(want))
	}
	if !enc.IsClosedForRead() {
		t.Fatal("expected IsClosedForRead to be true after full drain")
	}
}

// chunkFrame is a decoded data or terminal frame, used by tests to assert
// on chunk boundaries without re-parsing the wire format inline.
type chunkFrame struct {
	size int
	sig  string
	body []byte
}

// decodeChunkFrames parses the wire grammar spec.md §3 defines (the same
// grammar pkg/auth's decoder consumes) back into a list of frames, for
// asserting on boundary behavior.
func decodeChunkFrames(t *testing.T, data []byte) []chunkFrame {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(data))
	var frames []chunkFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("unexpected error reading chunk header: %v", err)
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		parts := strings.SplitN(line, ";", 2)
		size, err := strconv.ParseInt(parts[0], 16, 64)
		if err != nil {
			t.Fatalf("invalid chunk size %q: %v", parts[0], err)
		}
		sig := strings.TrimPrefix(parts[1], chunkSignaturePrefix)

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			t.Fatalf("unexpected error reading chunk body: %v", err)
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(r, crlf); err != nil {
			t.Fatalf("unexpected error reading chunk CRLF: %v", err)
		}

		frames = append(frames, chunkFrame{size: int(size), sig: sig, body: body})
		if size == 0 {
			return frames
		}
	}
}

func TestEncoderPartialLastChunk(t *testing.T) {
	total := 5*ChunkSize + ChunkSize/2
	data := make([]byte, total)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()

	enc := NewEncoder(bytes.NewReader(data), "seed", signer, cfg, nil)
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := decodeChunkFrames(t, out)
	if len(frames) != 7 { // 5 full + 1 partial + 1 terminal
		t.Fatalf("expected 7 frames, got %d", len(frames))
	}
	for _, f := range frames[:5] {
		if f.size != ChunkSize {
			t.Fatalf("expected full chunk of size %d, got %d", ChunkSize, f.size)
		}
	}
	if frames[5].size != ChunkSize/2 {
		t.Fatalf("expected partial chunk of size %d, got %d", ChunkSize/2, frames[5].size)
	}
	if frames[6].size != 0 {
		t.Fatalf("expected terminal chunk of size 0, got %d", frames[6].size)
	}

	var reconstructed []byte
	for _, f := range frames {
		reconstructed = append(reconstructed, f.body...)
	}
	if !bytes.Equal(reconstructed, data) {
		t.Fatal("reconstructed body does not match original input")
	}
}

func TestEncoderExcessReadRequest(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, ChunkSize)
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()
	enc := NewEncoder(bytes.NewReader(data), "", signer, cfg, nil)

	buf := make([]byte, 2*ChunkSize)
	n, err := enc.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n >= len(buf) {
		t.Fatalf("expected a single read to return strictly fewer than the requested 2*ChunkSize bytes, got %d", n)
	}
	if !enc.IsClosedForRead() {
		t.Fatal("expected a single over-sized Read to drain the whole encoded stream and set IsClosedForRead")
	}

	sig1, err := signer.SignChunk(data, "", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sigTerm, err := signer.SignChunk(nil, sig1, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "10000;chunk-signature=" + sig1 + "\r\n" + string(data) + "\r\n" +
		"0;chunk-signature=" + sigTerm + "\r\n\r\n"
	if string(buf[:n]) != want {
		t.Fatalf("got %d bytes, want %d bytes; a single Read did not return the full encoded stream", n, len(want))
	}

	n2, err2 := enc.Read(buf)
	if n2 != 0 || !errors.Is(err2, io.EOF) {
		t.Fatalf("expected (0, io.EOF) after drain, got (%d, %v)", n2, err2)
	}
}

func TestEncoderWithTrailers(t *testing.T) {
	data := bytes.Repeat([]byte{0x7a}, ChunkSize)
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()
	trailers := []TrailerHeader{
		{Name: "x-amz-checksum-crc32", Values: []string{"AAAAAA=="}},
		{Name: "x-amz-arbitrary-header-with-value", Values: []string{"BOOYAH"}},
	}

	enc := NewEncoder(bytes.NewReader(data), "", signer, cfg, trailers)
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig1, _ := signer.SignChunk(data, "", cfg)
	sigTerm, _ := signer.SignChunk(nil, sig1, cfg)
	trailerBytes := []byte("x-amz-checksum-crc32:AAAAAA==\r\nx-amz-arbitrary-header-with-value:BOOYAH\r\n")
	sigTrailer, _ := signer.SignTrailer(trailerBytes, sigTerm, cfg)

	wantSuffix := string(trailerBytes) + "x-amz-trailer-signature:" + sigTrailer + "\r\n\r\n"
	if !strings.HasSuffix(string(out), wantSuffix) {
		t.Fatalf("expected output to end with trailer block %q", wantSuffix)
	}
}

func TestEncoderEmptySourceNoTrailers(t *testing.T) {
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()
	enc := NewEncoder(bytes.NewReader(nil), "seed", signer, cfg, nil)

	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sigTerm, _ := signer.SignChunk(nil, "seed", cfg)
	want := "0;chunk-signature=" + sigTerm + "\r\n\r\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestEncoderReadBeyondClose(t *testing.T) {
	enc := NewEncoder(bytes.NewReader(nil), "seed", SigV4ChunkSigner{}, testSigningConfig(), nil)
	if _, err := io.ReadAll(enc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := make([]byte, 1)
	if err := enc.ReadFull(dst, 0, 1); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	if err := enc.ReadFull(dst, 0, 0); err != nil {
		t.Fatalf("expected ReadFull(dst, 0, 0) to succeed on a closed encoder, got %v", err)
	}
}

func TestEncoderReadAvailableOverread(t *testing.T) {
	enc := NewEncoder(bytes.NewReader(nil), "seed", SigV4ChunkSigner{}, testSigningConfig(), nil)
	if _, err := io.ReadAll(enc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := make([]byte, 1)
	n, err := enc.ReadAvailable(dst, 0, 1)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on over-read, got (%d, %v)", n, err)
	}
}

func TestEncoderZeroLengthReadDoesNotPull(t *testing.T) {
	enc := NewEncoder(neverReadReader{}, "seed", SigV4ChunkSigner{}, testSigningConfig(), nil)
	n, err := enc.Read(nil)
	if n != 0 || err != nil {
		t.Fatalf("expected (0, nil) for a zero-length read, got (%d, %v)", n, err)
	}
}

func TestEncoderInvalidArgument(t *testing.T) {
	enc := NewEncoder(bytes.NewReader(nil), "seed", SigV4ChunkSigner{}, testSigningConfig(), nil)
	dst := make([]byte, 2)
	if err := enc.ReadFull(dst, 0, 5); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := enc.ReadAvailable(dst, -1, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEncoderDeterministicAcrossInstances(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02}, ChunkSize)
	signer := SigV4ChunkSigner{}
	cfg := testSigningConfig()

	enc1 := NewEncoder(bytes.NewReader(data), "seed", signer, cfg, nil)
	enc2 := NewEncoder(bytes.NewReader(data), "seed", signer, cfg, nil)

	out1, err := io.ReadAll(enc1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := io.ReadAll(enc2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("expected byte-equal output from two encoders over identical input")
	}
}

// failingSigner is a ChunkSigner stub whose every call fails with a fixed
// error, for exercising Encoder's Failed-state stickiness.
type failingSigner struct {
	err error
}

func (f failingSigner) SignChunk(body []byte, prev string, cfg SigningConfig) (string, error) {
	return "", f.err
}
func (f failingSigner) SignTrailer(body []byte, prev string, cfg SigningConfig) (string, error) {
	return "", f.err
}
func (f failingSigner) Sign(_ *http.Request, _ SigningConfig) error { return nil }

func TestEncoderSignerFailureIsSticky(t *testing.T) {
	wantErr := errors.New("kms unavailable")
	enc := NewEncoder(bytes.NewReader([]byte("x")), "seed", failingSigner{err: wantErr}, testSigningConfig(), nil)

	buf := make([]byte, 16)
	_, err := enc.Read(buf)
	var signerErr *SignerError
	if !errors.As(err, &signerErr) || !errors.Is(signerErr.Cause, wantErr) {
		t.Fatalf("expected wrapped SignerError, got %v", err)
	}

	_, err2 := enc.Read(buf)
	if err2 == nil || err2.Error() != err.Error() {
		t.Fatalf("expected subsequent reads to surface the same error, got %v then %v", err, err2)
	}
}

type neverReadReader struct{}

func (neverReadReader) Read(p []byte) (int, error) {
	panic("Read should not be called on a zero-length Encoder.Read")
}
