package chunkstream_test

import (
	"bytes"
	"testing"

	"github.com/awschunk/s3stream/pkg/auth"
	"github.com/awschunk/s3stream/pkg/chunkstream"
)

// Golden values below are taken from the AWS SigV4 streaming documentation
// examples, cross-checked against other_examples/minio-minio-go's
// streaming_test.go (TestChunkSignature, TestTrailerChunkSignature).

func TestSigV4ChunkSignerSignChunk(t *testing.T) {
	secretAccessKey := "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	cfg := chunkstream.SigningConfig{
		SigningKey:      auth.CalculateSigningKey(secretAccessKey, "20130524", "us-east-1", "s3"),
		CredentialScope: "20130524/us-east-1/s3/aws4_request",
		Timestamp:       "20130524T000000Z",
	}
	prevSignature := "4f232c4386841ef735655705268965c44a0e4690baa4adea153f7db9fa80a0a9"
	chunkData := bytes.Repeat([]byte("a"), 65536)

	signer := chunkstream.SigV4ChunkSigner{}
	sig, err := signer.SignChunk(chunkData, prevSignature, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const want = "ad80c730a21e5b8d04586a2213dd63b9a0e99e0e2307b0ade35a65485a288648"
	if sig != want {
		t.Fatalf("got %s, want %s", sig, want)
	}
}

func TestSigV4ChunkSignerSignTerminalChunk(t *testing.T) {
	secretAccessKey := "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	cfg := chunkstream.SigningConfig{
		SigningKey:      auth.CalculateSigningKey(secretAccessKey, "20130524", "us-east-1", "s3"),
		CredentialScope: "20130524/us-east-1/s3/aws4_request",
		Timestamp:       "20130524T000000Z",
	}
	prevSignature := "ad80c730a21e5b8d04586a2213dd63b9a0e99e0e2307b0ade35a65485a288648"

	signer := chunkstream.SigV4ChunkSigner{}
	sig, err := signer.SignChunk(nil, prevSignature, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("expected a 64-char hex signature, got %d chars: %s", len(sig), sig)
	}
}

func TestSigV4ChunkSignerSignTrailer(t *testing.T) {
	secretAccessKey := "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	cfg := chunkstream.SigningConfig{
		SigningKey:      auth.CalculateSigningKey(secretAccessKey, "20130524", "us-east-1", "s3"),
		CredentialScope: "20130524/us-east-1/s3/aws4_request",
		Timestamp:       "20130524T000000Z",
	}
	prevSignature := "e05ab64fe1dfdbf0b5870abbaabdb063c371d4e96f2767e6934d90529c5ae850"
	trailerBytes := []byte("x-amz-checksum-crc32c:wdBDMA==\n")

	signer := chunkstream.SigV4ChunkSigner{}
	sig, err := signer.SignTrailer(trailerBytes, prevSignature, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const want = "41e14ac611e27a8bb3d66c3bad6856f209297767d5dd4fc87d8fa9e422e03faf"
	if sig != want {
		t.Fatalf("got %s, want %s", sig, want)
	}
}

func TestSigV4ChunkSignerDeterministic(t *testing.T) {
	cfg := chunkstream.SigningConfig{
		SigningKey:      []byte("a-signing-key"),
		CredentialScope: "20240101/us-west-2/s3/aws4_request",
		Timestamp:       "20240101T000000Z",
	}
	signer := chunkstream.SigV4ChunkSigner{}

	sig1, err := signer.SignChunk([]byte("payload"), "seed", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig2, err := signer.SignChunk([]byte("payload"), "seed", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signatures, got %s and %s", sig1, sig2)
	}

	sig3, err := signer.SignChunk([]byte("different"), "seed", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig3 == sig1 {
		t.Fatal("expected different payloads to produce different signatures")
	}
}
