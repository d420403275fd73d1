package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var app *fiber.App

	BeforeEach(func() {
		app = fiber.New()
		DeferCleanup(app.Shutdown)
	})

	// upstreamHeaders runs SetUpstreamRequestHeaders for a client request
	// carrying in and returns what would be sent upstream.
	upstreamHeaders := func(hh *Handler, in map[string]string) http.Header {
		var got http.Header
		app.Post("/api/chat", func(c *fiber.Ctx) error {
			req, _ := http.NewRequest(http.MethodPost, "http://upstream/chat/completions", nil)
			hh.SetUpstreamRequestHeaders(c, req, "req-1")
			got = req.Header
			return c.SendStatus(fiber.StatusOK)
		})

		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		for k, v := range in {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return got
	}

	// clientHeaders runs SetClientResponseHeaders for an upstream response
	// carrying in and returns what the client receives.
	clientHeaders := func(in http.Header) http.Header {
		app.Get("/relay", func(c *fiber.Ctx) error {
			NewHandler("").SetClientResponseHeaders(c, &http.Response{Header: in})
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/relay", nil))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp.Header
	}

	Describe("SetUpstreamRequestHeaders", func() {
		It("forwards the client's Authorization when no key is configured", func() {
			got := upstreamHeaders(NewHandler(""), map[string]string{
				"Authorization":       "Bearer client-token",
				"Openai-Organization": "org-1",
			})
			Expect(got.Get("Authorization")).To(Equal("Bearer client-token"))
			Expect(got.Get("Openai-Organization")).To(Equal("org-1"))
		})

		It("replaces the client's Authorization with the configured key", func() {
			hh := NewHandler("sk-relay")
			Expect(hh.HasAPIKey()).To(BeTrue())

			got := upstreamHeaders(hh, map[string]string{"Authorization": "Bearer client-token"})
			Expect(got.Get("Authorization")).To(Equal("Bearer sk-relay"))
		})

		It("sets its own content negotiation and request id", func() {
			got := upstreamHeaders(NewHandler(""), map[string]string{
				"Content-Type": "text/plain",
				"Accept":       "*/*",
				"X-Request-Id": "client-chosen",
			})
			Expect(got.Get("Content-Type")).To(Equal("application/json"))
			Expect(got.Get("Accept")).To(Equal("text/event-stream"))
			Expect(got.Get("X-Request-Id")).To(Equal("req-1"))
		})

		DescribeTable("drops headers that must not reach the upstream",
			func(name, value string) {
				got := upstreamHeaders(NewHandler(""), map[string]string{name: value, "X-Keep": "yes"})
				Expect(got.Get(name)).To(BeEmpty())
				Expect(got.Get("X-Keep")).To(Equal("yes"))
			},
			Entry("Connection", "Connection", "keep-alive"),
			Entry("Accept-Encoding", "Accept-Encoding", "gzip, deflate, br"),
			Entry("Cookie", "Cookie", "session=1"),
			Entry("Origin", "Origin", "http://localhost:3000"),
			Entry("Referer", "Referer", "http://localhost:3000/chat"),
		)
	})

	Describe("SetClientResponseHeaders", func() {
		It("forwards ordinary headers and joins multiple values", func() {
			got := clientHeaders(http.Header{
				"Content-Type": {"application/json"},
				"X-Multi":      {"value1", "value2"},
			})
			Expect(got.Get("Content-Type")).To(Equal("application/json"))
			Expect(got.Get("X-Multi")).To(Equal("value1, value2"))
		})

		It("drops hop-by-hop, encoding and cookie headers", func() {
			got := clientHeaders(http.Header{
				"Connection":        {"keep-alive"},
				"Transfer-Encoding": {"chunked"},
				"Content-Encoding":  {"gzip"},
				"Content-Length":    {"1234"},
				"Set-Cookie":        {"upstream=1"},
				"X-Ratelimit-Limit": {"60"},
			})
			Expect(got.Get("Transfer-Encoding")).To(BeEmpty())
			Expect(got.Get("Content-Encoding")).To(BeEmpty())
			Expect(got.Get("Content-Length")).NotTo(Equal("1234"))
			Expect(got.Get("Set-Cookie")).To(BeEmpty())
			Expect(got.Get("X-Ratelimit-Limit")).To(Equal("60"))
		})
	})

	Describe("SetStreamHeaders", func() {
		It("marks the response as an unbuffered event stream", func() {
			app.Get("/stream", func(c *fiber.Ctx) error {
				NewHandler("").SetStreamHeaders(c, "req-9")
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream", nil))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(Equal(EventStreamContentType))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))
			Expect(resp.Header.Get("X-Request-Id")).To(Equal("req-9"))
		})
	})

	Describe("ResolveRequestID", func() {
		resolve := func(incoming string) string {
			var id string
			app.Get("/id", func(c *fiber.Ctx) error {
				id = ResolveRequestID(c)
				return c.SendStatus(fiber.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/id", nil)
			if incoming != "" {
				req.Header.Set("X-Request-Id", incoming)
			}
			resp, err := app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			return id
		}

		It("keeps a client supplied id", func() {
			Expect(resolve("trace-42")).To(Equal("trace-42"))
		})

		It("generates a UUID otherwise", func() {
			id := resolve("")
			_, err := uuid.Parse(id)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
