package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type payload struct {
	Name  string            `json:"name"`
	Items map[string]string `json:"items"`
}

func TestEncodeDecode(t *testing.T) {
	in := payload{Name: "memberships", Items: map[string]string{"a": "1", "b": "2"}}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out payload
	if err := Decode(data, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Name != in.Name || out.Items["b"] != "2" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDecodeRejectsForeignData(t *testing.T) {
	var out payload
	if err := Decode([]byte(`{"name":"x"}`), &out); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("Decode(plain JSON) = %v, want ErrBadSnapshot", err)
	}
	if err := Decode(append([]byte("CSS1"), 0xff, 0xff), &out); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("Decode(truncated) = %v, want ErrBadSnapshot", err)
	}
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "nested", "store.snap"))
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	if _, err := sink.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty sink = %v, want ErrNoSnapshot", err)
	}

	if err := sink.Save(ctx, []byte("first")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := sink.Save(ctx, []byte("second")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Load = %q, want %q", data, "second")
	}
}

func TestFileSinkRequiresPath(t *testing.T) {
	if _, err := NewFileSink(""); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("NewFileSink(\"\") = %v, want ErrMissingTarget", err)
	}
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	ctx := context.Background()
	fake := &fakeObjects{objects: make(map[string][]byte)}
	sink := NewS3SinkWithClient(fake, "backups", "clusterstore/orleans.snap")

	if _, err := sink.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty bucket = %v, want ErrNoSnapshot", err)
	}

	if err := sink.Save(ctx, []byte("payload")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Load = %q, want payload", data)
	}
	if sink.String() != "s3://backups/clusterstore/orleans.snap" {
		t.Errorf("String() = %q", sink.String())
	}
}

func TestS3SinkPutFailure(t *testing.T) {
	boom := errors.New("access denied")
	sink := NewS3SinkWithClient(&fakeObjects{objects: map[string][]byte{}, failPut: boom}, "b", "k")

	if err := sink.Save(context.Background(), []byte("x")); !errors.Is(err, boom) {
		t.Errorf("Save = %v, want wrapped access denied", err)
	}
}

func TestNewS3SinkRequiresBucketAndKey(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Options{Bucket: "only-bucket"}); !errors.Is(err, ErrMissingTarget) {
		t.Errorf("NewS3Sink without key = %v, want ErrMissingTarget", err)
	}
}
