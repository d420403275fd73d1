package chatcmder

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/dotdir"
)

// newRoot wraps the chat command with the persistent flags the trickle root
// command provides.
func newRoot() *cobra.Command {
	root := &cobra.Command{Use: "trickle", SilenceUsage: true}
	root.PersistentFlags().BoolP("debug", "d", false, "")
	root.PersistentFlags().String("config-dir", "", "")
	root.AddCommand(NewChatCmd())
	return root
}

var _ = Describe("NewChatCmd", func() {
	It("creates a command with the correct use string", func() {
		Expect(NewChatCmd().Use).To(Equal("chat"))
	})

	It("has a --chat-url flag defaulting to the local relay", func() {
		f := NewChatCmd().Flags().Lookup("chat-url")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("u"))
		Expect(f.DefValue).To(Equal("http://localhost:8080/api/chat"))
	})

	It("has a --timeout flag defaulting to five minutes", func() {
		f := NewChatCmd().Flags().Lookup("timeout")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal("5m0s"))
	})

	It("has --plain, --resume and --history switches", func() {
		cmd := NewChatCmd()
		for _, name := range []string{"plain", "resume", "history"} {
			f := cmd.Flags().Lookup(name)
			Expect(f).NotTo(BeNil(), name)
			Expect(f.DefValue).To(Equal("false"), name)
		}
	})

	It("rejects positional arguments", func() {
		cmd := NewChatCmd()
		Expect(cmd.Args(cmd, []string{"hello"})).To(HaveOccurred())
	})
})

var _ = Describe("Chat command execution", func() {
	var (
		endpoint  *chatEndpoint
		configDir string
		out       *bytes.Buffer
	)

	BeforeEach(func() {
		endpoint = newChatEndpoint("data: Hello\n\n", "data:  world\n\n")
		configDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	execute := func(input string, args ...string) error {
		root := newRoot()
		root.SetIn(strings.NewReader(input))
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(append([]string{"chat", "--config-dir", configDir, "--chat-url", endpoint.URL}, args...))
		return root.Execute()
	}

	It("falls back to the plain prompt when input is not a terminal", func() {
		Expect(execute("hi\n")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Hello world"))
		Expect(endpoint.Requests()).To(Equal([]chat.Request{{Query: "hi"}}))
	})

	It("saves the session on exit", func() {
		Expect(execute("hi\n")).To(Succeed())

		t, err := dotdir.NewManager().LoadTranscript(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(t).NotTo(BeNil())
		Expect(t.ChatURL).To(Equal(endpoint.URL))
		Expect(t.Messages).To(Equal([]dotdir.TranscriptMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "Hello world"},
		}))
	})

	It("does not save a session without questions", func() {
		Expect(execute("")).To(Succeed())

		t, err := dotdir.NewManager().LoadTranscript(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(BeNil())
	})

	It("resumes the saved session and sends it as history", func() {
		Expect(execute("first\n")).To(Succeed())
		Expect(execute("second\n", "--resume", "--history")).To(Succeed())

		reqs := endpoint.Requests()
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[1].Query).To(Equal("second"))
		Expect(reqs[1].Messages).To(Equal([]chat.Message{
			{Role: chat.RoleUser, Content: "first"},
			{Role: chat.RoleAssistant, Content: "Hello world"},
		}))
	})

	It("starts fresh when resuming without a saved session", func() {
		Expect(execute("", "--resume")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No saved session"))
	})

	It("appends JSON debug logs to chat.log with --debug", func() {
		Expect(execute("hi\n", "--debug")).To(Succeed())

		data, err := os.ReadFile(filepath.Join(configDir, "chat.log"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"starting chat"`))
	})

	It("reads the chat URL from the config directory", func() {
		cfgRoot := newRoot()
		cfgRoot.SetArgs([]string{"chat", "--config-dir", configDir})
		Expect(writeConfig(configDir, "[client]\nchat_url = \""+endpoint.URL+"\"\n")).To(Succeed())

		cfgRoot.SetIn(strings.NewReader("from config\n"))
		cfgRoot.SetOut(out)
		Expect(cfgRoot.Execute()).To(Succeed())
		Expect(endpoint.Requests()).To(Equal([]chat.Request{{Query: "from config"}}))
	})
})

var _ = Describe("colorProfile", func() {
	It("uses plain text for writers that are not terminals", func() {
		Expect(colorProfile(&bytes.Buffer{})).To(Equal(termenv.Ascii))
	})
})
