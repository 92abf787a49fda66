// ABOUTME: Minimal fake agent for E2E testing — walks the full protocol over HTTP.
// ABOUTME: Usage: fake-agent [-addr localhost:8372] [-name "echo-agent"]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ddudl/agentgate/internal/pow"
)

func main() {
	addr := flag.String("addr", "localhost:8372", "agentgate server address")
	name := flag.String("name", fmt.Sprintf("echo-agent-%d", time.Now().Unix()%100000), "Agent name to register")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *addr, *name); err != nil {
		log.Fatal(err)
	}
}

type challengeResp struct {
	ChallengeID string `json:"challengeId"`
	Prefix      string `json:"prefix"`
	Difficulty  int    `json:"difficulty"`
}

func run(ctx context.Context, addr, name string) error {
	base := "http://" + addr

	// Registration: mine the expensive challenge, claim a name
	ch, err := fetchChallenge(ctx, base, "register")
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "mining register challenge (difficulty %d)...\n", ch.Difficulty)
	start := time.Now()
	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	fmt.Fprintf(os.Stderr, "solved in %s\n", time.Since(start).Round(time.Millisecond))

	var reg struct {
		APIKey   string `json:"apiKey"`
		Username string `json:"username"`
	}
	err = postJSON(ctx, base+"/register", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       nonce,
		"username":    name,
	}, nil, &reg)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered as %s\n", reg.Username)

	// Action: mine the cheap challenge, buy a token, spend it on a post
	ch, err = fetchChallenge(ctx, base, "action")
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "mining action challenge (difficulty %d)...\n", ch.Difficulty)
	nonce = pow.Solve(ch.Prefix, ch.Difficulty)

	var tok struct {
		Token string `json:"token"`
	}
	err = postJSON(ctx, base+"/verify", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       nonce,
	}, map[string]string{"X-Agent-Key": reg.APIKey}, &tok)
	if err != nil {
		return fmt.Errorf("verifying: %w", err)
	}

	var accepted struct {
		Status string `json:"status"`
		Action string `json:"action"`
	}
	err = postJSON(ctx, base+"/posts", map[string]string{
		"title": "hello from " + reg.Username,
		"body":  "first post",
	}, map[string]string{
		"X-Agent-Key":   reg.APIKey,
		"X-Agent-Token": tok.Token,
	}, &accepted)
	if err != nil {
		return fmt.Errorf("posting: %w", err)
	}

	fmt.Fprintf(os.Stderr, "post %s\n", accepted.Status)
	return nil
}

func fetchChallenge(ctx context.Context, base, kind string) (*challengeResp, error) {
	var ch challengeResp
	if err := postJSON(ctx, base+"/challenge", map[string]string{"type": kind}, nil, &ch); err != nil {
		return nil, fmt.Errorf("fetching %s challenge: %w", kind, err)
	}
	return &ch, nil
}

func postJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, data)
	}

	return json.Unmarshal(data, out)
}
