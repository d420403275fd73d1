package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/trickle/pkg/logger"
)

func decodeRecord(buf *bytes.Buffer) map[string]any {
	var rec map[string]any
	ExpectWithOffset(1, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec)).To(Succeed())
	return rec
}

var _ = Describe("Logger", func() {
	var buf bytes.Buffer

	BeforeEach(func() {
		buf.Reset()
	})

	Describe("New", func() {
		It("writes text records by default", func() {
			l := logger.New(logger.WithWriter(&buf))
			l.Info("relay started", "listen", ":8080")

			Expect(buf.String()).To(ContainSubstring("relay started"))
			Expect(buf.String()).To(ContainSubstring("listen=:8080"))
		})

		It("filters debug records unless debug is enabled", func() {
			logger.New(logger.WithWriter(&buf)).Debug("hidden")
			Expect(buf.String()).To(BeEmpty())

			logger.New(logger.WithWriter(&buf), logger.WithDebug(true)).Debug("visible")
			Expect(buf.String()).To(ContainSubstring("visible"))
		})

		It("writes JSON records", func() {
			l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true))
			l.Info("stream finished", "updates", 3)

			rec := decodeRecord(&buf)
			Expect(rec["msg"]).To(Equal("stream finished"))
			Expect(rec["updates"]).To(BeNumerically("==", 3))
		})

		It("adds the source location when asked", func() {
			l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true), logger.WithSource(true))
			l.Info("with source")

			Expect(decodeRecord(&buf)).To(HaveKey(slog.SourceKey))
		})

		It("writes pretty records", func() {
			l := logger.New(logger.WithWriter(&buf), logger.WithPretty(true), logger.WithDebug(true))
			l.Debug("pretty output", "frame", "event: ping")

			Expect(buf.String()).To(ContainSubstring("pretty output"))
			Expect(buf.String()).To(ContainSubstring("event: ping"))
		})

		It("prefers JSON over pretty", func() {
			l := logger.New(logger.WithWriter(&buf), logger.WithPretty(true), logger.WithJSON(true))
			l.Info("json wins")

			Expect(decodeRecord(&buf)["msg"]).To(Equal("json wins"))
		})

		It("fans out to multiple writers", func() {
			var other bytes.Buffer
			l := logger.New(logger.WithWriter(&buf, &other))
			l.Info("twice")

			Expect(buf.String()).To(ContainSubstring("twice"))
			Expect(other.String()).To(ContainSubstring("twice"))
		})
	})

	Describe("Nop", func() {
		It("is disabled at every level", func() {
			l := logger.Nop()
			for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelError} {
				Expect(l.Enabled(context.Background(), level)).To(BeFalse())
			}
			Expect(func() { l.With("k", "v").WithGroup("g").Error("msg") }).NotTo(Panic())
		})
	})

	Describe("Multi", func() {
		It("dispatches each record to every enabled logger", func() {
			var debugBuf bytes.Buffer
			info := logger.New(logger.WithWriter(&buf))
			debug := logger.New(logger.WithWriter(&debugBuf), logger.WithDebug(true))
			multi := logger.Multi(info, debug, logger.Nop())

			multi.Debug("frame discarded")
			multi.Info("request relayed")

			Expect(buf.String()).NotTo(ContainSubstring("frame discarded"))
			Expect(buf.String()).To(ContainSubstring("request relayed"))
			Expect(debugBuf.String()).To(ContainSubstring("frame discarded"))
			Expect(debugBuf.String()).To(ContainSubstring("request relayed"))
		})

		It("keeps attributes and groups on children", func() {
			l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true))
			child := logger.Multi(l).With("request_id", "abc").WithGroup("upstream")
			child.Info("relayed", "status", 200)

			rec := decodeRecord(&buf)
			Expect(rec["request_id"]).To(Equal("abc"))
			group, ok := rec["upstream"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(group["status"]).To(BeNumerically("==", 200))
		})

		It("is disabled when every logger is", func() {
			multi := logger.Multi(logger.Nop(), logger.Nop())
			Expect(multi.Enabled(context.Background(), slog.LevelError)).To(BeFalse())
		})
	})
})
