package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sangram0022/user-mn-go/apiclient"
	"github.com/sangram0022/user-mn-go/credstore"
	"github.com/sangram0022/user-mn-go/csrf"
	"github.com/sangram0022/user-mn-go/internal/config"
	"github.com/sangram0022/user-mn-go/session"
	"github.com/sangram0022/user-mn-go/storage"
	bboltstorage "github.com/sangram0022/user-mn-go/storage/bbolt"
	"github.com/sangram0022/user-mn-go/storage/memory"
)

var (
	flagEmail         string
	flagPassword      string
	flagPasswordStdin bool
	flagVerbose       bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEmail, "email", "", "Account email")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "Account password (prefer --password-stdin)")
	rootCmd.PersistentFlags().BoolVar(&flagPasswordStdin, "password-stdin", false, "Read the password from stdin")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// stack bundles the assembled SDK for one CLI invocation.
type stack struct {
	cfg        *config.Config
	controller *session.Controller
	creds      *credstore.Store
	closeStore func() error
}

// buildStack assembles the client from environment configuration. The
// credential blob store is a bbolt file under the user config dir by
// default; its contents only decrypt within this process.
func buildStack() (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var blobs storage.Store
	closeStore := func() error { return nil }
	path := cfg.CredentialFile
	if path == "" {
		path, err = defaultCredentialFile()
		if err != nil {
			logger.Warn("no usable config dir, keeping credentials in memory", "error", err)
		}
	}
	if path != "" {
		boltStore, err := bboltstorage.NewStoreFromFile(path, nil)
		if err != nil {
			logger.Warn("falling back to in-memory credential store", "path", path, "error", err)
			blobs = memory.NewStore()
		} else {
			blobs = boltStore
			closeStore = boltStore.Close
		}
	} else {
		blobs = memory.NewStore()
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	csrfMgr := csrf.NewManager(httpClient, cfg.CSRFTokenEndpoint(),
		csrf.WithTTL(cfg.CSRFTTL),
		csrf.WithRefreshThreshold(cfg.CSRFRefreshThreshold),
		csrf.WithLogger(logger),
	)

	credOpts := []credstore.Option{credstore.WithLogger(logger)}
	if cfg.EncryptionSeed != "" {
		credOpts = append(credOpts, credstore.WithSeed([]byte(cfg.EncryptionSeed)))
	}
	creds := credstore.New(blobs, credOpts...)

	api := apiclient.New(httpClient, cfg.APIBaseURL,
		apiclient.WithCSRF(csrfMgr), apiclient.WithLogger(logger))
	ctrl := session.NewController(api, creds, csrfMgr, session.WithLogger(logger))

	return &stack{
		cfg:        cfg,
		controller: ctrl,
		creds:      creds,
		closeStore: closeStore,
	}, nil
}

func (s *stack) Close() {
	if err := s.closeStore(); err != nil {
		fmt.Fprintf(os.Stderr, "closing credential store: %v\n", err)
	}
}

// credentials resolves email and password from flags and stdin.
func credentials() (email, password string, err error) {
	email = flagEmail
	if email == "" {
		return "", "", fmt.Errorf("--email is required")
	}
	password = flagPassword
	if flagPasswordStdin {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("reading password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", "", fmt.Errorf("a password is required (--password or --password-stdin)")
	}
	return email, password, nil
}

func defaultCredentialFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "usermn")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.db"), nil
}

func printProfile(user *apiclient.UserProfile) {
	fmt.Printf("ID:        %s\n", user.ID)
	fmt.Printf("Email:     %s\n", user.Email)
	fmt.Printf("Name:      %s\n", user.FullName)
	fmt.Printf("Active:    %t\n", user.IsActive)
	fmt.Printf("Superuser: %t\n", user.IsSuperuser)
	if user.Role != nil {
		fmt.Printf("Role:      %s\n", user.Role.Name)
		if len(user.Role.Permissions) > 0 {
			fmt.Printf("Grants:    %s\n", strings.Join(user.Role.Permissions, ", "))
		}
	}
}
