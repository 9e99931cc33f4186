package stats

import (
	"context"
	"testing"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/size"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}
	t.Cleanup(func() { ns.Shutdown() })
	return ns.ClientURL()
}

func TestSubscriberFeedsCache(t *testing.T) {
	url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	cache := NewCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSubscriber(ctx, nc, cache, "test.stats", zap.NewNop()) }()

	// wait for the subscription to be registered
	time.Sleep(100 * time.Millisecond)

	big := size.ToBigInt(5, 3) // 3 PB + 5 bytes
	if err := Publish(nc, "test.stats", Report{System: "sys", Pool: "p1", Node: "n1", Storage: size.Storage{
		size.Total: big,
		size.Free:  size.FromBytes(42),
	}}); err != nil {
		t.Fatal(err)
	}
	// invalid payloads are dropped
	nc.Publish(ReportSubject("test.stats", "sys"), []byte("not json"))
	nc.Publish(ReportSubject("test.stats", "sys"), []byte(`{"system":"sys"}`))
	nc.Flush()

	var got map[string]size.Storage
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err = cache.AggregateByPool(context.Background(), "sys", []string{"p1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatal("report never reached the cache")
	}
	if got["p1"].Get(size.Total) != big {
		t.Errorf("total = %v, want %v", got["p1"].Get(size.Total), big)
	}
	if got["p1"].Get(size.Free) != size.FromBytes(42) {
		t.Errorf("free = %v, want 42", got["p1"].Get(size.Free))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSubscriber returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunSubscriber did not stop")
	}
}
