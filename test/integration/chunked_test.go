package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/awschunk/s3stream/pkg/chunkstream"
)

// signingConfigForTest builds a chunkstream.SigningConfig with an arbitrary
// signing key. The server under test (pkg/server.ChunkedReader) only parses
// chunk framing and never validates signatures itself — that is the auth
// middleware's job, exercised separately in auth_test.go — so any key
// produces chunk-signature fields the server will accept.
func signingConfigForTest() chunkstream.SigningConfig {
	return chunkstream.SigningConfig{
		SigningKey:      []byte("integration-test-signing-key"),
		CredentialScope: "20260731/us-east-1/s3/aws4_request",
		Timestamp:       "20260731T000000Z",
	}
}

// encodedBody drives a real chunkstream.Encoder over data, producing the
// exact wire bytes the server's pkg/server.ChunkedReader must decode back to
// data. This is the same Encoder cmd/streamput wraps a PUT request body in.
func encodedBody(t *testing.T, data []byte, trailers []chunkstream.TrailerHeader) []byte {
	t.Helper()
	enc := chunkstream.NewEncoder(bytes.NewReader(data), "seed-signature", chunkstream.SigV4ChunkSigner{}, signingConfigForTest(), trailers)
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("encoding test body: %v", err)
	}
	return out
}

// TestChunkedUpload verifies the retained decode-side server (pkg/server,
// pkg/auth) correctly accepts the exact aws-chunked wire format produced by
// this module's own pkg/chunkstream.Encoder, rather than a hand-assembled
// approximation of it.
func TestChunkedUpload(t *testing.T) {
	bucketName := "chunked-upload-bucket"
	_, err := ts.client.CreateBucket(ts.ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create bucket: %v", err)
	}

	put := func(t *testing.T, objectKey string, body []byte, decodedLen int) *http.Response {
		t.Helper()
		url := fmt.Sprintf("http://%s/%s/%s", ts.listener.Addr().String(), bucketName, objectKey)
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("x-amz-content-sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD")
		req.Header.Set("x-amz-decoded-content-length", fmt.Sprintf("%d", decodedLen))

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Failed to send request: %v", err)
		}
		return resp
	}

	get := func(t *testing.T, objectKey string) []byte {
		t.Helper()
		output, err := ts.client.GetObject(ts.ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			t.Fatalf("Failed to get object: %v", err)
		}
		defer output.Body.Close()
		data, err := io.ReadAll(output.Body)
		if err != nil {
			t.Fatalf("Failed to read object: %v", err)
		}
		return data
	}

	t.Run("EncoderRoundTrip", func(t *testing.T) {
		objectKey := "chunked-object.txt"
		objectContent := []byte("Hello, this is chunked upload content!")
		body := encodedBody(t, objectContent, nil)

		resp := put(t, objectKey, body, len(objectContent))
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 200 OK, got %d: %s", resp.StatusCode, string(respBody))
		}

		if data := get(t, objectKey); !bytes.Equal(data, objectContent) {
			t.Errorf("Content mismatch: got %q, want %q", data, objectContent)
		}
	})

	t.Run("EncoderRoundTripMultiChunk", func(t *testing.T) {
		objectKey := "multi-chunk-object.bin"
		// Span several CHUNK_SIZE-sized chunks so the server's chunk-by-chunk
		// parsing is actually exercised more than once.
		objectContent := bytes.Repeat([]byte("chunk-content-"), chunkstream.ChunkSize/8)
		body := encodedBody(t, objectContent, nil)

		resp := put(t, objectKey, body, len(objectContent))
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 200 OK, got %d: %s", resp.StatusCode, string(respBody))
		}

		if data := get(t, objectKey); !bytes.Equal(data, objectContent) {
			t.Errorf("Size/content mismatch: got %d bytes, want %d bytes", len(data), len(objectContent))
		}
	})

	t.Run("EncoderRoundTripWithChecksumTrailer", func(t *testing.T) {
		objectKey := "trailing-headers-object.txt"
		objectContent := []byte("Content with trailing headers")
		trailers := []chunkstream.TrailerHeader{
			{Name: "x-amz-checksum-crc32c", Values: []string{"wdBDMA=="}},
		}
		body := encodedBody(t, objectContent, trailers)

		resp := put(t, objectKey, body, len(objectContent))
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 200 OK, got %d: %s", resp.StatusCode, string(respBody))
		}

		// pkg/server.ChunkedReader parses the trailer block and
		// handlePutObject surfaces checksum trailers back on the response,
		// the same way S3 itself echoes a client-supplied checksum.
		if got := resp.Header.Get("x-amz-checksum-crc32c"); got != "wdBDMA==" {
			t.Errorf("x-amz-checksum-crc32c = %q, want %q", got, "wdBDMA==")
		}

		if data := get(t, objectKey); !bytes.Equal(data, objectContent) {
			t.Errorf("Content mismatch: got %q, want %q", data, objectContent)
		}
	})

	t.Run("EncoderRoundTripEmpty", func(t *testing.T) {
		objectKey := "empty-chunked-object.txt"
		body := encodedBody(t, nil, nil)

		resp := put(t, objectKey, body, 0)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 200 OK, got %d: %s", resp.StatusCode, string(respBody))
		}

		if data := get(t, objectKey); len(data) != 0 {
			t.Errorf("Expected empty content, got %d bytes", len(data))
		}
	})

	// Regular (non-chunked) upload still works alongside aws-chunked ones.
	t.Run("RegularUploadStillWorks", func(t *testing.T) {
		objectKey := "regular-object.txt"
		objectContent := "Regular upload content"

		_, err := ts.client.PutObject(ts.ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(objectKey),
			Body:   strings.NewReader(objectContent),
		})
		if err != nil {
			t.Fatalf("Failed to put object: %v", err)
		}

		if data := get(t, objectKey); string(data) != objectContent {
			t.Errorf("Content mismatch: got %q, want %q", data, objectContent)
		}
	})
}
