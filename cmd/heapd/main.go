// heapd runs a managed heap under a synthetic allocation workload and
// exposes the debug service over gRPC. With brokers configured it also
// publishes cycle summaries to Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"

	"loam/api/grpcserver"
	"loam/heap"
	"loam/infra/census"
	"loam/infra/kafka"
	"loam/infra/sequence"
	"loam/infra/trace"
	"loam/jobs/broadcaster"
	"loam/service"
)

const (
	kindLeaf heap.ObjectKind = iota
	kindNode
)

// demoLayout describes the workload's object graph: nodes hold one
// reference at offset 0, leaves hold none.
type demoLayout struct{}

func (demoLayout) FieldOffsets(kind heap.ObjectKind) []uint32 {
	if kind == kindNode {
		return []uint32{0}
	}
	return nil
}

func main() {
	var (
		listen   = flag.String("listen", ":50051", "debug service address")
		dataDir  = flag.String("data", "./heapd_data", "trace, census and snapshot directory")
		brokers  = flag.String("brokers", "", "comma-separated Kafka brokers (empty disables publishing)")
		topic    = flag.String("topic", "gc.cycles", "Kafka topic for cycle summaries")
		mutators = flag.Int("mutators", 4, "workload goroutines")
		heapMB   = flag.Uint64("heap-mb", 256, "heap budget in MiB")
	)
	flag.Parse()

	// ---------------- Trace log ----------------

	tr, err := trace.New(trace.Config{
		Dir:           filepath.Join(*dataDir, "trace"),
		FlushInterval: time.Second,
	})
	if err != nil {
		log.Fatalf("trace init failed: %v", err)
	}

	// ---------------- Sequencer ----------------

	seqGen := sequence.New(0)
	last, err := service.RecoverSequence(tr, seqGen)
	if err != nil {
		log.Fatalf("trace replay failed: %v", err)
	}
	log.Printf("[heapd] trace replay completed (last seq = %d)", last)

	// ---------------- Census ----------------

	store, err := census.Open(filepath.Join(*dataDir, "census"))
	if err != nil {
		log.Fatalf("census init failed: %v", err)
	}
	defer store.Close()

	// ---------------- Heap ----------------

	h, err := heap.New(heap.Config{
		MaxHeapBytes: *heapMB << 20,
		Layout:       demoLayout{},
	})
	if err != nil {
		log.Fatalf("heap init failed: %v", err)
	}

	// ---------------- Service ----------------

	svc := service.NewHeapService(h, tr, store, seqGen)
	defer svc.Close()

	stopSnapshots := svc.StartSnapshotJob(filepath.Join(*dataDir, "snapshot"), 30*time.Second)
	defer stopSnapshots()

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *brokers != "" {
		addrs := strings.Split(*brokers, ",")

		bc, err := broadcaster.New(store, addrs, *topic)
		if err != nil {
			log.Fatalf("broadcaster init failed: %v", err)
		}
		defer bc.Close()
		bc.Start(ctx)

		producer := kafka.NewProducer(addrs, *topic+".stats")
		defer producer.Close()
		go publishStats(ctx, producer, svc)
	}

	for i := 0; i < *mutators; i++ {
		go workload(h, int64(i))
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc))

	fmt.Printf("heapd running on %s\n", *listen)

	if err := grpcSrv.Serve(lis); err != nil {
		log.Fatalf("gRPC server exited: %v", err)
	}
}

// publishStats ships a metrics snapshot every few seconds.
func publishStats(ctx context.Context, producer *kafka.Producer, svc *service.HeapService) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := producer.SendEvent(ctx, svc.Seq(), svc.Stats()); err != nil {
				log.Printf("[heapd] stats publish failed: %v", err)
			}
		}
	}
}

// workload churns the heap: each goroutine maintains a sliding window
// of linked lists, continuously dropping old lists and building new
// ones so every generation sees traffic.
func workload(h *heap.Heap, seed int64) {
	const windowSize = 64

	var window [windowSize]heap.Pointer
	roots := make([]*heap.Pointer, windowSize)
	for i := range window {
		roots[i] = &window[i]
	}

	m := h.RegisterMutator(func() []*heap.Pointer { return roots })
	defer m.Deregister()

	rng := rand.New(rand.NewSource(seed))
	for slot := 0; ; slot = (slot + 1) % windowSize {
		length := 1 + rng.Intn(32)

		var head heap.Pointer
		for i := 0; i < length; i++ {
			node, err := m.Allocate(16, kindNode)
			if err != nil {
				log.Printf("[workload] allocate: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			h.Store(node, 0, head)
			head = node
		}

		// drop whatever the slot held and retain the new list
		window[slot] = head

		if rng.Intn(1000) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
