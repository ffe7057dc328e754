// Package alerts posts ops alerts to a Discord/Slack-style webhook. Delivery
// happens off the request path via the worker pool, and repeated alerts with
// the same title are suppressed for a cooldown window so a retry storm does
// not page anyone a hundred times.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const cooldown = time.Minute

type submitter interface {
	Submit(f func())
}

type Notifier struct {
	url     string
	env     string
	enabled bool
	client  *http.Client
	pool    submitter

	mu   sync.Mutex
	last map[string]time.Time
}

func New(url, env string, enabled bool, pool submitter) *Notifier {
	return &Notifier{
		url:     url,
		env:     env,
		enabled: enabled && url != "",
		client:  &http.Client{Timeout: 10 * time.Second},
		pool:    pool,
		last:    make(map[string]time.Time),
	}
}

func (n *Notifier) Error(title string, fields map[string]string) {
	n.send("error", title, fields)
}

func (n *Notifier) Critical(title string, fields map[string]string) {
	n.send("critical", title, fields)
}

func (n *Notifier) send(level, title string, fields map[string]string) {
	if n == nil || !n.enabled {
		return
	}
	if !n.shouldSend(level + ":" + title) {
		return
	}
	body := n.format(level, title, fields)
	n.pool.Submit(func() {
		payload, err := json.Marshal(map[string]string{"content": body})
		if err != nil {
			return
		}
		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
		if err != nil {
			slog.Warn("alert delivery failed", "err", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("alert delivery rejected", "status", resp.StatusCode)
		}
	})
}

func (n *Notifier) shouldSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	if last, ok := n.last[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	n.last[key] = now
	return true
}

func (n *Notifier) format(level, title string, fields map[string]string) string {
	var b strings.Builder
	if level == "critical" {
		b.WriteString("🚨 ")
	} else {
		b.WriteString("⚠️ ")
	}
	fmt.Fprintf(&b, "**%s** [%s]\n", title, n.env)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	return b.String()
}
