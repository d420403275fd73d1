package initcmder_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/trickle/cmd/trickle/init"
	"github.com/papercomputeco/trickle/pkg/config"
)

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	execute := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append([]string{}, args...))
		return cmd.Execute()
	}

	loadConfig := func() *config.Config {
		data, err := os.ReadFile(filepath.Join(tmpDir, ".trickle", "config.toml"))
		Expect(err).NotTo(HaveOccurred())

		cfg := &config.Config{}
		_, err = toml.Decode(string(data), cfg)
		Expect(err).NotTo(HaveOccurred())
		return cfg
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "trickle-init-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("creates a .trickle directory in the current directory", func() {
		Expect(execute()).To(Succeed())

		info, err := os.Stat(filepath.Join(tmpDir, ".trickle"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
		Expect(out.String()).To(ContainSubstring("Initialized"))
	})

	It("writes a config.toml with default values", func() {
		Expect(execute()).To(Succeed())

		cfg := loadConfig()
		defaults := config.NewDefaultConfig()
		Expect(cfg.Version).To(Equal(config.CurrentV))
		Expect(cfg.Proxy.Upstream).To(Equal(defaults.Proxy.Upstream))
		Expect(cfg.Proxy.Model).To(Equal(defaults.Proxy.Model))
		Expect(cfg.Client.ChatURL).To(Equal(defaults.Client.ChatURL))
	})

	It("leaves an existing config.toml alone without a preset", func() {
		dir := filepath.Join(tmpDir, ".trickle")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[proxy]\nmodel = \"mine\"\n"), 0o600)).To(Succeed())

		Expect(execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Already initialized"))
		Expect(loadConfig().Proxy.Model).To(Equal("mine"))
	})

	It("does not touch other files in the directory", func() {
		dir := filepath.Join(tmpDir, ".trickle")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		transcript := filepath.Join(dir, "transcript.json")
		Expect(os.WriteFile(transcript, []byte(`{"messages":[]}`), 0o600)).To(Succeed())

		Expect(execute("--preset", "ollama")).To(Succeed())

		data, err := os.ReadFile(transcript)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"messages":[]}`))
	})

	DescribeTable("writes a named preset",
		func(preset, upstream, model, keyEnv string) {
			Expect(execute("--preset", preset)).To(Succeed())

			cfg := loadConfig()
			Expect(cfg.Proxy.Upstream).To(Equal(upstream))
			Expect(cfg.Proxy.Model).To(Equal(model))
			Expect(cfg.Proxy.APIKeyEnv).To(Equal(keyEnv))
		},
		Entry("openai", "openai", "https://api.openai.com/v1", "gpt-3.5-turbo", "OPENAI_API_KEY"),
		Entry("ollama", "ollama", "http://localhost:11434/v1", "llama3.2", "OLLAMA_API_KEY"),
		Entry("openrouter", "openrouter", "https://openrouter.ai/api/v1", "openai/gpt-3.5-turbo", "OPENROUTER_API_KEY"),
	)

	It("overwrites config.toml when re-initialized with a preset", func() {
		Expect(execute()).To(Succeed())
		Expect(execute("--preset", "ollama")).To(Succeed())
		Expect(loadConfig().Proxy.Model).To(Equal("llama3.2"))
	})

	It("rejects an unknown preset without creating anything", func() {
		err := execute("--preset", "nope")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown preset"))

		_, statErr := os.Stat(filepath.Join(tmpDir, ".trickle"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	Context("with a remote preset", func() {
		var server *httptest.Server

		AfterEach(func() {
			if server != nil {
				server.Close()
				server = nil
			}
		})

		It("downloads and writes the config", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "version = 0\n\n[proxy]\nupstream = \"http://gateway.internal/v1\"\nmodel = \"team-model\"\nrelay = \"raw\"\n")
			}))

			Expect(execute("--preset", server.URL+"/config.toml")).To(Succeed())

			cfg := loadConfig()
			Expect(cfg.Proxy.Upstream).To(Equal("http://gateway.internal/v1"))
			Expect(cfg.Proxy.Model).To(Equal("team-model"))
			Expect(cfg.Proxy.Relay).To(Equal(config.RelayRaw))
		})

		It("reports a non-200 response", func() {
			server = httptest.NewServer(http.NotFoundHandler())

			err := execute("--preset", server.URL)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("HTTP 404"))
		})

		It("reports invalid TOML", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "[proxy\nnot toml")
			}))

			err := execute("--preset", server.URL)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing"))
		})

		It("rejects an invalid relay mode", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "[proxy]\nrelay = \"binary\"\n")
			}))

			Expect(execute("--preset", server.URL)).To(HaveOccurred())
		})

		It("reports an unreachable server", func() {
			server = httptest.NewServer(http.NotFoundHandler())
			url := server.URL
			server.Close()
			server = nil

			err := execute("--preset", url)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("fetching remote config"))
		})
	})
})
