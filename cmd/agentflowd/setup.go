package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"agentflow/pkg/config"
)

// runSetup interactively collects provider API keys and writes them to
// the encrypted secrets file under dataDir.
func runSetup(dataDir string) error {
	fmt.Println("agentflow secret setup")
	fmt.Printf("secrets will be stored encrypted under %s\n\n", dataDir)

	passphrase, err := promptPassphrase(true)
	if err != nil {
		return err
	}

	secrets := make(map[string]string)
	for _, name := range []string{
		config.SecretAnthropicAPIKey,
		config.SecretOpenAIAPIKey,
		config.SecretGeminiAPIKey,
	} {
		value, err := promptSecret(fmt.Sprintf("%s (empty to skip): ", name))
		if err != nil {
			return err
		}
		if value != "" {
			secrets[name] = value
		}
	}

	if err := config.EncryptSecretsFile(dataDir, passphrase, secrets); err != nil {
		return err
	}
	fmt.Printf("\nstored %d secret(s)\n", len(secrets))
	return nil
}

// unlockSecrets decrypts the secrets file when it exists and the
// configured provider needs an API key. Providers without keys (ollama,
// mock) skip the prompt; a missing file falls back to env vars.
func unlockSecrets(dataDir string, cfg *config.Config) error {
	switch cfg.LLM.Provider {
	case "ollama", "mock":
		return nil
	}
	if !config.SecretsFileExists(dataDir) {
		return nil
	}

	passphrase, err := promptPassphrase(false)
	if err != nil {
		return err
	}
	return config.DecryptSecretsFile(dataDir, passphrase)
}

// promptPassphrase reads a passphrase without echo. With confirm set it
// asks twice and requires a match.
func promptPassphrase(confirm bool) (string, error) {
	first, err := promptSecret("passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	if !confirm {
		return first, nil
	}

	second, err := promptSecret("confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

// promptSecret reads one line without echoing when stdin is a
// terminal, falling back to plain reads for piped input.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
