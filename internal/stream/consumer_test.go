package stream

import (
	"testing"
	"time"

	"mailbridge/adapter/in/worker"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type fakePool struct {
	accept bool
	msgs   []*worker.Message
}

func (f *fakePool) Submit(msg *worker.Message) bool {
	if f.accept {
		f.msgs = append(f.msgs, msg)
	}
	return f.accept
}

func TestConsumer_Handle(t *testing.T) {
	userID := uuid.New()
	src := worker.NewSyncUserMessage(userID)
	data, err := json.Marshal(&Job{ID: src.ID, Type: src.Type, Payload: src.Payload, CreatedAt: src.CreatedAt})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		data      []byte
		accept    bool
		wantErr   bool
		wantQueue int
	}{
		{"submitted", data, true, false, 1},
		{"pool stopped", data, false, true, 0},
		{"malformed", []byte("{"), true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{accept: tt.accept}
			c := NewConsumer(nil, pool, "test")
			err := c.handle("1-0", tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(pool.msgs) != tt.wantQueue {
				t.Fatalf("submitted = %d, want %d", len(pool.msgs), tt.wantQueue)
			}
			if tt.wantQueue == 0 {
				return
			}

			got := pool.msgs[0]
			if got.ID != src.ID || got.Type != worker.JobSyncUser {
				t.Errorf("message = %+v", got)
			}
			payload, err := worker.ParsePayload[worker.SyncUserPayload](got)
			if err != nil || payload.UserID != userID.String() {
				t.Errorf("payload = %+v, err = %v", payload, err)
			}
		})
	}
}

func TestNewRedisStream_Defaults(t *testing.T) {
	s := NewRedisStream(nil, "g", 0, 0)
	if s.batchSize != 10 || s.block != 5*time.Second {
		t.Errorf("defaults = %d/%v, want 10/5s", s.batchSize, s.block)
	}
}
