// SPDX-License-Identifier: AGPL-3.0-only
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/fluffyriot/fbtracker/internal/auth"
	"github.com/fluffyriot/fbtracker/internal/authhelp"
	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/config"
	"github.com/fluffyriot/fbtracker/internal/exports"
	"github.com/fluffyriot/fbtracker/internal/packages"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*cloudstore.Settings, error)
	PutSettings(ctx context.Context, userID string, settings *cloudstore.Settings) error
}

type PackageStore interface {
	GetPackageWithUpdates(ctx context.Context, id string) (*packages.MergedPackage, error)
	ExportPackage(ctx context.Context, id string, w io.Writer) error
	ImportPackage(ctx context.Context, r io.Reader) (string, error)
	ClearAll(ctx context.Context) error
}

// ReadSecret prompts on stdout and reads a line from stdin without echo
// when stdin is a terminal.
func ReadSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func loadSettings(ctx context.Context, store SettingsStore, userID string) (*cloudstore.Settings, error) {
	settings, err := store.GetSettings(ctx, userID)
	if errors.Is(err, cloudstore.ErrNotFound) {
		return &cloudstore.Settings{}, nil
	}
	return settings, err
}

// HandleSetToken encrypts token and stores it in the user's settings.
func HandleSetToken(ctx context.Context, store SettingsStore, userID, token string, encryptionKey []byte) error {
	if userID == "" {
		return errors.New("--user is required")
	}

	settings, err := loadSettings(ctx, store, userID)
	if err != nil {
		return err
	}
	if err := auth.SealToken(settings, token, encryptionKey); err != nil {
		return err
	}
	if err := store.PutSettings(ctx, userID, settings); err != nil {
		return err
	}

	log.Printf("CLI: Access token stored for user %s", userID)
	return nil
}

// HandleExchangeToken swaps a short-lived token for a long-lived one and
// stores the result.
func HandleExchangeToken(ctx context.Context, store SettingsStore, cfg *config.AppConfig, client *http.Client, userID, shortLived string) error {
	if cfg.FacebookAppID == "" || cfg.FacebookAppSecret == "" {
		return errors.New("FACEBOOK_APP_ID and FACEBOOK_APP_SECRET are required")
	}

	oauthCfg := authhelp.GenerateFacebookConfig(cfg.FacebookAppID, cfg.FacebookAppSecret, cfg.FacebookCallback)
	token, err := authhelp.ExchangeLongLivedToken(ctx, client, cfg.GraphAPIBase, cfg.GraphAPIVersion, shortLived, oauthCfg)
	if err != nil {
		return err
	}

	return HandleSetToken(ctx, store, userID, token, cfg.TokenEncryptionKey)
}

// HandleExport writes a package to dir as JSON or CSV and returns the path.
func HandleExport(ctx context.Context, store PackageStore, id string, format exports.Format, dir string) (string, error) {
	merged, err := store.GetPackageWithUpdates(ctx, id)
	if err != nil {
		return "", err
	}

	write := func(w io.Writer) error {
		return store.ExportPackage(ctx, id, w)
	}
	if format == exports.FormatCSV {
		write = func(w io.Writer) error {
			return exports.WritePostsCSV(w, merged.Posts)
		}
	}

	return exports.SaveExportFile(dir, id, merged.Package.Name, format, write)
}

func HandleImport(ctx context.Context, store PackageStore, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	id, err := store.ImportPackage(ctx, file)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", path, err)
	}

	log.Printf("CLI: Imported %s as package %s", path, id)
	return id, nil
}

func HandleClear(ctx context.Context, store PackageStore, confirmed bool) error {
	if !confirmed {
		return errors.New("refusing to clear all packages without --yes")
	}
	if err := store.ClearAll(ctx); err != nil {
		return err
	}
	log.Println("CLI: All packages deleted")
	return nil
}
