package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/trickle/pkg/chat"
)

type memorySink struct {
	mu      sync.Mutex
	records []Record
	err     error
	block   chan struct{}
}

func (s *memorySink) Write(_ context.Context, rec Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) written() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func record(id string) Record {
	return Record{
		RequestID: id,
		Model:     "gpt-3.5-turbo",
		Relay:     "text",
		Messages:  []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		Answer:    "Hello world!",
		Deltas:    3,
		StartedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

var _ = Describe("Pool", func() {
	It("requires a sink", func() {
		_, err := NewPool(&Config{})
		Expect(err).To(MatchError(ContainSubstring("requires a sink")))
	})

	It("writes every queued record before Close returns", func() {
		sink := &memorySink{}
		wp, err := NewPool(&Config{Sink: sink})
		Expect(err).NotTo(HaveOccurred())

		for _, id := range []string{"a", "b", "c"} {
			Expect(wp.Enqueue(record(id))).To(BeTrue())
		}
		wp.Close()
		wp.Close()

		ids := []string{}
		for _, r := range sink.written() {
			ids = append(ids, r.RequestID)
		}
		Expect(ids).To(ConsistOf("a", "b", "c"))
	})

	It("drops records when the queue is full", func() {
		sink := &memorySink{block: make(chan struct{})}
		wp, err := NewPool(&Config{Sink: sink, NumWorkers: 1, QueueSize: 1})
		Expect(err).NotTo(HaveOccurred())

		// The worker takes the first record and blocks in the sink; the
		// second fills the queue.
		Expect(wp.Enqueue(record("first"))).To(BeTrue())
		Eventually(func() bool { return wp.Enqueue(record("second")) }).Should(BeTrue())
		Expect(wp.Enqueue(record("third"))).To(BeFalse())

		close(sink.block)
		wp.Close()
		Expect(sink.written()).To(HaveLen(2))
	})

	It("keeps working after a sink error", func() {
		sink := &memorySink{err: errors.New("disk full")}
		wp, err := NewPool(&Config{Sink: sink})
		Expect(err).NotTo(HaveOccurred())

		Expect(wp.Enqueue(record("x"))).To(BeTrue())
		wp.Close()
		Expect(sink.written()).To(BeEmpty())
	})
})

var _ = Describe("FileSink", func() {
	It("appends one JSON line per record", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "relay.jsonl")
		sink, err := NewFileSink(path)
		Expect(err).NotTo(HaveOccurred())

		wp, err := NewPool(&Config{Sink: sink, NumWorkers: 1})
		Expect(err).NotTo(HaveOccurred())
		wp.Enqueue(record("one"))
		wp.Enqueue(record("two"))
		wp.Close()
		Expect(sink.Close()).To(Succeed())

		f, err := os.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		var got []Record
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var r Record
			Expect(json.Unmarshal(scanner.Bytes(), &r)).To(Succeed())
			got = append(got, r)
		}
		Expect(got).To(Equal([]Record{record("one"), record("two")}))
	})

	It("refuses to write after the context is done", func() {
		sink, err := NewFileSink(filepath.Join(GinkgoT().TempDir(), "relay.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sink.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(sink.Write(ctx, record("late"))).To(MatchError(context.Canceled))
	})
})
