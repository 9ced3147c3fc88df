// scripts/serve_smoke_check.go
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/server"
)

func main() {
	configPath := flag.String("config", appconfig.DefaultConfigPath, "Path to config JSON")
	baseURL := flag.String("url", "", "Override the chorus server URL (default from listenAddr)")
	models := flag.String("models", "", "Comma-separated model ids (default from defaultModels)")
	message := flag.String("message", "ping", "Message to send")
	stream := flag.Bool("stream", false, "Also exercise the Server-Sent Events endpoint")
	timeout := flag.Duration("timeout", 60*time.Second, "HTTP timeout")
	flag.Parse()

	target, ids, err := resolveTarget(*configPath, *baseURL, *models)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}

	fmt.Printf("Target server: %s\n", target)
	fmt.Printf("Models: %s\n\n", strings.Join(ids, ", "))

	if err := checkGet(client, target+"/health"); err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	if err := checkGet(client, target+"/api/models"); err != nil {
		fmt.Fprintf(os.Stderr, "models check failed: %v\n", err)
	}

	payload := map[string]any{"message": *message, "models": ids}
	if err := checkChat(client, target+"/api/chat", payload); err != nil {
		fmt.Fprintf(os.Stderr, "chat check failed: %v\n", err)
	}
	if *stream {
		if err := checkStream(client, target+"/api/chat/stream", payload); err != nil {
			fmt.Fprintf(os.Stderr, "stream check failed: %v\n", err)
		}
	}
}

func resolveTarget(configPath, overrideURL, overrideModels string) (string, []string, error) {
	var cfg appconfig.Config
	loaded, err := appconfig.Load(configPath)
	switch {
	case err == nil:
		cfg = loaded
	case overrideURL != "" && overrideModels != "":
		cfg = appconfig.Default()
	default:
		return "", nil, err
	}

	target := strings.TrimRight(overrideURL, "/")
	if target == "" {
		addr := cfg.ListenAddr
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		target = "http://" + addr
	}

	ids := cfg.DefaultModels
	if overrideModels != "" {
		ids = nil
		for _, id := range strings.Split(overrideModels, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return "", nil, fmt.Errorf("no models: pass -models or set defaultModels in %s", configPath)
	}
	return target, ids, nil
}

func checkGet(client *http.Client, url string) error {
	fmt.Printf("== GET %s ==\n", url)
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", resp.Status)
	fmt.Println(indentJSON(body))
	fmt.Println()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func checkChat(client *http.Client, url string, payload map[string]any) error {
	fmt.Printf("== POST %s ==\n", url)
	start := time.Now()
	status, body, err := postJSON(client, url, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %d (%s)\n", status, time.Since(start).Round(time.Millisecond))
	if status != http.StatusOK {
		fmt.Println(indentJSON(body))
		return fmt.Errorf("unexpected status %d", status)
	}

	var parsed server.ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, r := range parsed.Responses {
		if r.Error != "" {
			fmt.Printf("  - %s: error (%s) %s\n", r.Model, r.ErrorKind, r.Error)
			continue
		}
		msg := strings.Join(strings.Fields(r.Content), " ")
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
		fmt.Printf("  - %s: %s\n", r.Model, msg)
	}
	fmt.Println()
	return nil
}

func checkStream(client *http.Client, url string, payload map[string]any) error {
	fmt.Printf("== POST %s ==\n", url)
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	start := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			fmt.Printf("[%6s] %s\n", time.Since(start).Round(time.Millisecond), line)
		}
	}
	fmt.Println()
	return scanner.Err()
}

func postJSON(client *http.Client, url string, payload map[string]any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func indentJSON(body []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return string(body)
	}
	return out.String()
}
