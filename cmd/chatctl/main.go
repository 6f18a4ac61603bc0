// chatctl is a small operator tool for poking a running chat service: mint a
// development session token, register key material, send a message, or dump a
// thread's history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"securechat/internal/auth"
	"securechat/pkg/chatclient"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = runToken(args)
	case "register":
		err = runRegister(args)
	case "send":
		err = runSend(args)
	case "history":
		err = runHistory(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  token      Mint an HS256 session token for local development")
	fmt.Fprintln(os.Stderr, "  register   Generate a keypair and register it with the service")
	fmt.Fprintln(os.Stderr, "  send       Encrypt and send a text message to a peer")
	fmt.Fprintln(os.Stderr, "  history    Fetch and decrypt a thread's history")
	os.Exit(2)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", "", "shared HS256 secret (required)")
	issuer := fs.String("issuer", "", "token issuer claim")
	user := fs.String("user", "", "user id, random when empty")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if *secret == "" {
		return fmt.Errorf("-secret is required")
	}
	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			return fmt.Errorf("invalid -user: %w", err)
		}
		userID = parsed
	}

	token, err := auth.MintSessionToken(*secret, *issuer, userID, uuid.New(), *ttl)
	if err != nil {
		return err
	}
	fmt.Printf("user:  %s\ntoken: %s\n", userID, token)
	return nil
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8090", "service base URL")
	token := fs.String("token", "", "session token (required)")
	password := fs.String("backup-password", "", "private key backup password (required)")
	_ = fs.Parse(args)

	if *token == "" || *password == "" {
		return fmt.Errorf("-token and -backup-password are required")
	}
	client := chatclient.New(*baseURL, *token)
	if err := client.RegisterKeys(context.Background(), *password); err != nil {
		return err
	}
	fmt.Println("keys registered")
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8090", "service base URL")
	token := fs.String("token", "", "session token (required)")
	password := fs.String("backup-password", "", "private key backup password (required)")
	peer := fs.String("peer", "", "peer user id (required)")
	text := fs.String("text", "", "message text (required)")
	_ = fs.Parse(args)

	if *token == "" || *password == "" || *peer == "" || *text == "" {
		return fmt.Errorf("-token, -backup-password, -peer and -text are required")
	}
	peerID, err := uuid.Parse(*peer)
	if err != nil {
		return fmt.Errorf("invalid -peer: %w", err)
	}

	ctx := context.Background()
	client := chatclient.New(*baseURL, *token)
	if err := client.RestoreKeys(ctx, *password); err != nil {
		return fmt.Errorf("restore keys: %w", err)
	}
	threadID, err := client.OpenThread(ctx, peerID)
	if err != nil {
		return err
	}
	sent, err := client.SendText(ctx, threadID, peerID, *text)
	if err != nil {
		return err
	}
	fmt.Printf("sent %s in thread %s\n", sent.ID, threadID)
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8090", "service base URL")
	token := fs.String("token", "", "session token (required)")
	password := fs.String("backup-password", "", "private key backup password (required)")
	thread := fs.String("thread", "", "thread id (required)")
	limit := fs.Int("limit", 20, "number of messages")
	_ = fs.Parse(args)

	if *token == "" || *password == "" || *thread == "" {
		return fmt.Errorf("-token, -backup-password and -thread are required")
	}
	threadID, err := uuid.Parse(*thread)
	if err != nil {
		return fmt.Errorf("invalid -thread: %w", err)
	}

	ctx := context.Background()
	client := chatclient.New(*baseURL, *token)
	if err := client.RestoreKeys(ctx, *password); err != nil {
		return fmt.Errorf("restore keys: %w", err)
	}
	entries, err := client.History(ctx, threadID, *limit, 0)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		text, err := client.Decrypt(entry)
		if err != nil {
			text = "[unable to decrypt]"
		}
		fmt.Printf("%s  %s  %s\n", entry.CreatedAt.Format(time.RFC3339), entry.SenderID, text)
	}
	return nil
}
