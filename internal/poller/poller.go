// Package poller はジョブ状態のポーリングクライアントを提供します。
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/fin-analyzer/internal/jobs"
)

// DefaultInterval はポーリング間隔の既定値です。
const DefaultInterval = 10 * time.Second

// 取得が連続して失敗したら諦める回数。
const maxConsecutiveFailures = 5

// Fetcher はタスクの現在状態を1回取得する関数です。
// ステータスAPIへのHTTP呼び出しやオーケストレーターの直接呼び出しを差し込みます。
type Fetcher func(ctx context.Context, taskID string) (*jobs.StatusView, error)

// Handler は取得した状態を受け取るコールバックです。
type Handler func(view *jobs.StatusView)

// Poller は終端状態に達するまでタスク状態を定期取得します。
// 一度終端状態を観測したらそのタスクを二度と取得しません。
type Poller struct {
	fetch    Fetcher
	interval time.Duration
}

// Option はPollerの設定を変更します。
type Option func(*Poller)

// WithInterval はポーリング間隔を変更します。
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// New はポーラーを作成します。
func New(fetch Fetcher, opts ...Option) *Poller {
	p := &Poller{fetch: fetch, interval: DefaultInterval}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll はタスクが終端状態になるまで状態を取得し続け、最後に観測した状態を返します。
// onUpdate はnilでも構いません。コンテキストの取消で中断します。
func (p *Poller) Poll(ctx context.Context, taskID string, onUpdate Handler) (*jobs.StatusView, error) {
	failures := 0
	for {
		view, err := p.fetch(ctx, taskID)
		if err != nil {
			failures++
			if failures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("poll %s: giving up after %d consecutive failures: %w", taskID, failures, err)
			}
		} else {
			failures = 0
			if onUpdate != nil {
				onUpdate(view)
			}
			if view.Status.Terminal() {
				return view, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}
}
