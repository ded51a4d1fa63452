// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sigil-dev/rpcrouter/internal/bench"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/secrets"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
)

// publicEndpoint is added as a fallback provider to generated configs.
const publicEndpoint = "https://api.mainnet-beta.solana.com"

// wizardHTTPClient is used to probe the entered endpoint. Replaced in tests.
var wizardHTTPClient = &http.Client{Timeout: bench.DefaultTimeout}

type wizardStep int

const (
	stepName    wizardStep = iota // provider name
	stepURL                       // endpoint URL
	stepProbe                     // probing endpoint (spinner)
	stepStorage                   // keyring or inline
	stepDone                      // config written
	stepError                     // terminal error
)

// storageChoice says where the endpoint URL is kept.
type storageChoice string

const (
	storageKeyring storageChoice = "OS keyring (recommended for URLs with API keys)"
	storageInline  storageChoice = "config.toml"
)

var storageChoices = []storageChoice{storageKeyring, storageInline}

// wizardResult holds the collected answers.
type wizardResult struct {
	Name    string
	URL     string
	Keyring bool
	Latency time.Duration
}

type (
	probeDoneMsg struct{ latency time.Duration }
	probeErrMsg  struct{ err error }
	writtenMsg   struct{ path string }
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// wizardModel is the bubbletea model for init --interactive.
type wizardModel struct {
	step       wizardStep
	nameInput  textinput.Model
	urlInput   textinput.Model
	spinner    spinner.Model
	storageIdx int
	result     wizardResult
	inputErr   string
	configPath string
	force      bool
	store      secrets.Store
	errFinal   error
}

func newWizardModel(path string, store secrets.Store, force bool) wizardModel {
	name := textinput.New()
	name.Placeholder = "helius"
	name.Focus()

	u := textinput.New()
	u.Placeholder = "https://mainnet.helius-rpc.com/?api-key=..."
	u.EchoMode = textinput.EchoPassword
	u.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return wizardModel{
		step:       stepName,
		nameInput:  name,
		urlInput:   u,
		spinner:    sp,
		configPath: path,
		force:      force,
		store:      store,
	}
}

func (m wizardModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.step != stepProbe {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case probeDoneMsg:
		m.result.Latency = msg.latency
		m.step = stepStorage
		return m, nil

	case probeErrMsg:
		m.inputErr = "probe failed: " + msg.err.Error()
		m.step = stepURL
		m.urlInput.Focus()
		return m, textinput.Blink

	case writtenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m wizardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepName:
		if msg.String() != "enter" {
			return m.updateInputs(msg)
		}
		name := strings.TrimSpace(m.nameInput.Value())
		if name == "" {
			m.inputErr = "name must not be empty"
			return m, nil
		}
		m.result.Name = name
		m.inputErr = ""
		m.step = stepURL
		m.nameInput.Blur()
		m.urlInput.Focus()
		return m, textinput.Blink

	case stepURL:
		if msg.String() != "enter" {
			return m.updateInputs(msg)
		}
		raw := strings.TrimSpace(m.urlInput.Value())
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			m.inputErr = "enter an http(s) URL"
			return m, nil
		}
		m.result.URL = raw
		m.inputErr = ""
		m.step = stepProbe
		m.urlInput.Blur()
		return m, tea.Batch(m.spinner.Tick, probeCmd(raw))

	case stepStorage:
		switch msg.String() {
		case "up", "k":
			if m.storageIdx > 0 {
				m.storageIdx--
			}
		case "down", "j":
			if m.storageIdx < len(storageChoices)-1 {
				m.storageIdx++
			}
		case "enter":
			m.result.Keyring = storageChoices[m.storageIdx] == storageKeyring
			return m, writeWizardConfigCmd(m.result, m.configPath, m.store, m.force)
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m wizardModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepName:
		m.nameInput, cmd = m.nameInput.Update(msg)
	case stepURL:
		m.urlInput, cmd = m.urlInput.Update(msg)
	}
	return m, cmd
}

func (m wizardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  rpcrouter setup  ") + "\n\n")

	switch m.step {
	case stepName:
		b.WriteString(promptStyle.Render("Step 1/3: Provider name") + "\n\n")
		b.WriteString(m.nameInput.View() + "\n")
		m.writeInputErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepURL:
		b.WriteString(promptStyle.Render("Step 2/3: "+m.result.Name+" endpoint URL") + "\n\n")
		b.WriteString(m.urlInput.View() + "\n")
		m.writeInputErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to probe  ctrl+c to quit"))

	case stepProbe:
		b.WriteString(m.spinner.View() + " Probing " + provider.MaskURL(m.result.URL) + " with getHealth…\n")

	case stepStorage:
		b.WriteString(successStyle.Render(fmt.Sprintf("Endpoint healthy (%dms)", m.result.Latency.Milliseconds())) + "\n\n")
		b.WriteString(promptStyle.Render("Step 3/3: Where should the URL be stored?") + "\n\n")
		for i, c := range storageChoices {
			if i == m.storageIdx {
				b.WriteString(selectedStyle.Render("  > "+string(c)) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+string(c)) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		b.WriteString("Run " + promptStyle.Render("rpcrouter start") + " to serve, or " +
			promptStyle.Render("rpcrouter benchmark") + " to compare providers.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func (m wizardModel) writeInputErr(b *strings.Builder) {
	if m.inputErr != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.inputErr) + "\n")
	}
}

func probeCmd(endpoint string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bench.DefaultTimeout)
		defer cancel()

		start := time.Now()
		if err := provider.Probe(ctx, wizardHTTPClient, endpoint); err != nil {
			return probeErrMsg{err: err}
		}
		return probeDoneMsg{latency: time.Since(start)}
	}
}

func writeWizardConfigCmd(result wizardResult, path string, store secrets.Store, force bool) tea.Cmd {
	return func() tea.Msg {
		if err := writeWizardConfig(result, path, store, force); err != nil {
			return err
		}
		return writtenMsg{path: path}
	}
}

// GenerateConfigTOML renders a config with the wizard's provider first and
// the public endpoint as a fallback. When the URL lives in the keyring only
// its reference is written.
func GenerateConfigTOML(result wizardResult) string {
	endpoint := result.URL
	if result.Keyring {
		endpoint = secrets.Ref(secrets.DefaultService, result.Name)
	}

	var sb strings.Builder
	sb.WriteString("# rpcrouter configuration, generated by rpcrouter init.\n")
	sb.WriteString("# See 'rpcrouter init <path>' for a fully commented example.\n\n")

	sb.WriteString("[settings]\n")
	sb.WriteString("port = 3000\n\n")

	sb.WriteString("[[providers]]\n")
	fmt.Fprintf(&sb, "name = %q\n", result.Name)
	fmt.Fprintf(&sb, "url = %q\n", endpoint)
	sb.WriteString("weight = 2\n")

	if result.URL != publicEndpoint {
		sb.WriteString("\n[[providers]]\n")
		sb.WriteString("name = \"solana-public\"\n")
		fmt.Fprintf(&sb, "url = %q\n", publicEndpoint)
		sb.WriteString("weight = 1\n")
		sb.WriteString("max_rps = 10\n")
	}

	return sb.String()
}

// writeWizardConfig stores the URL in the keyring when chosen and writes the
// config file. An existing file is only replaced with force.
func writeWizardConfig(result wizardResult, path string, store secrets.Store, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return sigilerr.Errorf(sigilerr.CodeConfigAlreadyExists,
				"config file already exists at %s; use --force to overwrite", path)
		}
	}

	if result.Keyring {
		if err := store.Store(secrets.DefaultService, result.Name, result.URL); err != nil {
			return sigilerr.Wrapf(err, sigilerr.CodeSecretStoreFailure, "storing %s URL", result.Name)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "creating %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(GenerateConfigTOML(result)), 0o600); err != nil {
		return sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "writing %s: %w", path, err)
	}
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
