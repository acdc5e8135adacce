package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startHealthServer starts an HTTP server for health checks and stats.
func (r *Runner) startHealthServer(port int) {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JSON stats endpoint
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := r.GetStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stats)
	})

	// Recent alerts endpoint
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, req *http.Request) {
		n := 50
		if raw := req.URL.Query().Get("n"); raw != "" {
			fmt.Sscanf(raw, "%d", &n)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(r.recentAlertInfos(n))
	})

	// WebSocket endpoint for real-time stats
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			r.clients.Logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		// Send stats every second
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := r.GetStats()
			if err := conn.WriteJSON(stats); err != nil {
				return // Client disconnected
			}
		}
	})

	// HTML dashboard
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	r.healthServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.clients.Logger.Error("health server error", zap.Error(err))
		}
	}()
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Whalewatch Stats</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --bg-tertiary: #21262d;
            --border-color: #30363d;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --text-heading: #f0f6fc;
            --accent-blue: #58a6ff;
            --accent-green: #3fb950;
            --accent-red: #f85149;
            --accent-yellow: #d29922;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, monospace;
            background: var(--bg-primary);
            color: var(--text-primary);
            padding: 20px;
            line-height: 1.5;
        }
        h1 { color: var(--accent-blue); margin-bottom: 20px; font-size: 24px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 20px; }
        .card {
            background: var(--bg-secondary);
            border: 1px solid var(--border-color);
            border-radius: 8px;
            padding: 16px;
        }
        .card h3 { color: var(--accent-blue); font-size: 16px; margin-bottom: 12px; }
        .stat-row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid var(--bg-tertiary); }
        .stat-row:last-child { border-bottom: none; }
        .stat-label { color: var(--text-secondary); }
        .stat-value { color: var(--text-heading); font-weight: 600; }
        .stat-value.green { color: var(--accent-green); }
        .stat-value.red { color: var(--accent-red); }
        .stat-value.yellow { color: var(--accent-yellow); }
        .stat-value.blue { color: var(--accent-blue); }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 20px; }
        .status { display: flex; align-items: center; gap: 8px; }
        .status-dot { width: 10px; height: 10px; border-radius: 50%; }
        .status-dot.connected { background: var(--accent-green); }
        .status-dot.disconnected { background: var(--accent-red); animation: blink 1s infinite; }
        @keyframes blink { 50% { opacity: 0.5; } }
        .feed-item { background: var(--bg-tertiary); padding: 12px; border-radius: 6px; margin-bottom: 8px; border-left: 3px solid var(--accent-blue); }
        .feed-item.severity-HIGH { border-left-color: var(--accent-red); }
        .feed-item.severity-MEDIUM { border-left-color: var(--accent-yellow); }
        .feed-time { color: var(--text-secondary); font-size: 12px; }
        .feed-wallet { color: var(--accent-blue); font-weight: 600; font-family: monospace; }
        .feed-market { color: var(--text-primary); font-size: 14px; }
        .feed-reasons { display: flex; gap: 4px; flex-wrap: wrap; margin-top: 6px; }
        .reason-tag { background: #388bfd33; color: var(--accent-blue); padding: 2px 8px; border-radius: 4px; font-size: 11px; }
        .empty { color: var(--text-secondary); text-align: center; padding: 20px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>🐋 Whalewatch Dashboard</h1>
        <div class="status">
            <div id="wsDot" class="status-dot disconnected"></div>
            <span id="wsStatus">Connecting...</span>
        </div>
    </div>

    <div class="grid" style="margin-bottom: 20px;">
        <div class="card">
            <div class="stat-row">
                <span class="stat-label">Started</span>
                <span id="startTime" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Uptime</span>
                <span id="uptime" class="stat-value blue" style="font-size: 24px;">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Build</span>
                <span id="buildCommit" class="stat-value">-</span>
            </div>
        </div>

        <div class="card">
            <h3>📡 Ingestion</h3>
            <div class="stat-row">
                <span class="stat-label">Stream</span>
                <span id="streamState" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Stream Messages</span>
                <span id="streamMsgs" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Stream Trades</span>
                <span id="streamTrades" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Polled Trades</span>
                <span id="polledTrades" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Processed</span>
                <span id="processed" class="stat-value green">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Suppressed</span>
                <span id="suppressed" class="stat-value yellow">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Detector Panics</span>
                <span id="panics" class="stat-value red">-</span>
            </div>
        </div>

        <div class="card">
            <h3>📊 State</h3>
            <div class="stat-row">
                <span class="stat-label">Markets</span>
                <span id="marketCount" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Wallet Profiles</span>
                <span id="walletCount" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Entities</span>
                <span id="entityCount" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Entity Edges</span>
                <span id="edgeCount" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Seen Trades</span>
                <span id="seenTrades" class="stat-value">-</span>
            </div>
        </div>

        <div class="card">
            <h3>🚨 Alerts</h3>
            <div class="stat-row">
                <span class="stat-label">Total</span>
                <span id="alertTotal" class="stat-value green">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Per Hour</span>
                <span id="alertRate" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Last Hour</span>
                <span id="alerts1h" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Last 24h</span>
                <span id="alerts24h" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Last 7d</span>
                <span id="alerts7d" class="stat-value">-</span>
            </div>
        </div>
    </div>

    <div class="card" style="margin-bottom: 20px;">
        <h3>📜 Recent Alerts</h3>
        <div id="recentAlerts"><div class="empty">No alerts yet</div></div>
    </div>

    <div class="grid">
        <div class="card">
            <h3>💾 Memory</h3>
            <div class="stat-row">
                <span class="stat-label">Heap Allocated</span>
                <span id="heapAlloc" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Heap In Use</span>
                <span id="heapInuse" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Goroutines</span>
                <span id="goroutines" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">GC Cycles</span>
                <span id="numGC" class="stat-value">-</span>
            </div>
        </div>
        <div class="card">
            <h3>📢 Notifications</h3>
            <div class="stat-row">
                <span class="stat-label">Discord</span>
                <span id="discordStatus" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">Telegram</span>
                <span id="telegramStatus" class="stat-value">-</span>
            </div>
        </div>
        <div class="card">
            <h3>🖥️ System</h3>
            <div class="stat-row">
                <span class="stat-label">Go Version</span>
                <span id="goVersion" class="stat-value">-</span>
            </div>
            <div class="stat-row">
                <span class="stat-label">OS / Arch</span>
                <span id="osArch" class="stat-value">-</span>
            </div>
        </div>
    </div>

    <script>
        function connect() {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(protocol + '//' + window.location.host + '/ws');
            const dot = document.getElementById('wsDot');
            const status = document.getElementById('wsStatus');

            ws.onopen = () => {
                dot.className = 'status-dot connected';
                status.textContent = 'Live';
            };
            ws.onclose = () => {
                dot.className = 'status-dot disconnected';
                status.textContent = 'Reconnecting...';
                setTimeout(connect, 2000);
            };
            ws.onerror = () => ws.close();

            ws.onmessage = (e) => {
                const s = JSON.parse(e.data);

                document.getElementById('startTime').textContent = new Date(s.start_time).toLocaleString();
                document.getElementById('uptime').textContent = s.uptime;
                const commit = s.build.commit || 'dev';
                document.getElementById('buildCommit').textContent = commit.substring(0, 7);

                const ing = s.ingest;
                const live = ing.stream_enabled && ing.stream_connected;
                document.getElementById('streamState').textContent =
                    ing.stream_enabled ? (live ? '✅ Connected' : '❌ Disconnected') : '🔄 Polling only';
                document.getElementById('streamState').className = 'stat-value ' + (live ? 'green' : 'yellow');
                document.getElementById('streamMsgs').textContent = (ing.message_count || 0).toLocaleString();
                document.getElementById('streamTrades').textContent = ing.stream_trades.toLocaleString();
                document.getElementById('polledTrades').textContent = ing.polled_trades.toLocaleString();
                document.getElementById('processed').textContent = ing.trades_processed.toLocaleString();
                document.getElementById('suppressed').textContent = ing.suppressed.toLocaleString();
                document.getElementById('panics').textContent = ing.detector_panics.toLocaleString();

                document.getElementById('marketCount').textContent = s.markets.count;
                document.getElementById('walletCount').textContent = s.wallets.count.toLocaleString();
                document.getElementById('entityCount').textContent = s.entities.count;
                document.getElementById('edgeCount').textContent = s.entities.edges;
                document.getElementById('seenTrades').textContent = ing.seen_trades.toLocaleString();

                document.getElementById('alertTotal').textContent = s.alerts.total.toLocaleString();
                document.getElementById('alertRate').textContent = s.alerts.rate_per_hour.toFixed(1);
                document.getElementById('alerts1h').textContent = s.alerts.last_hour;
                document.getElementById('alerts24h').textContent = s.alerts.last_24h;
                document.getElementById('alerts7d').textContent = s.alerts.last_7d;

                const el = document.getElementById('recentAlerts');
                if (s.recent_alerts && s.recent_alerts.length > 0) {
                    el.innerHTML = s.recent_alerts.map(a => {
                        const time = new Date(a.timestamp).toLocaleTimeString();
                        const wallet = a.wallet.length > 14 ? a.wallet.substring(0, 6) + '...' + a.wallet.substring(a.wallet.length - 4) : a.wallet;
                        const tags = a.types.map(t => '<span class="reason-tag">' + t + '</span>').join('');
                        const market = (a.market_question || a.market_id).substring(0, 70);
                        return '<div class="feed-item severity-' + a.severity + '">' +
                            '<div style="display: flex; justify-content: space-between;">' +
                            '<span class="feed-wallet">' + wallet + '</span>' +
                            '<span class="feed-time">' + time + '</span>' +
                            '</div>' +
                            '<div class="feed-market">' + a.side + ' $' + a.amount_usd.toLocaleString(undefined, {maximumFractionDigits: 0}) + ' on ' + market + '</div>' +
                            '<div class="feed-reasons">' + tags + '</div>' +
                            '</div>';
                    }).join('');
                } else {
                    el.innerHTML = '<div class="empty">No alerts yet</div>';
                }

                const formatBytes = (b) => {
                    if (b < 1024 * 1024) return (b / 1024).toFixed(1) + ' KB';
                    if (b < 1024 * 1024 * 1024) return (b / (1024 * 1024)).toFixed(1) + ' MB';
                    return (b / (1024 * 1024 * 1024)).toFixed(2) + ' GB';
                };
                document.getElementById('heapAlloc').textContent = formatBytes(s.runtime.heap_alloc);
                document.getElementById('heapInuse').textContent = formatBytes(s.runtime.heap_inuse);
                document.getElementById('goroutines').textContent = s.runtime.goroutines;
                document.getElementById('numGC').textContent = s.runtime.num_gc;

                document.getElementById('discordStatus').textContent = s.notifications.discord_enabled ? '✓ Enabled' : '✗ Disabled';
                document.getElementById('telegramStatus').textContent = s.notifications.telegram_enabled ? '✓ Enabled' : '✗ Disabled';

                document.getElementById('goVersion').textContent = s.runtime.go_version;
                document.getElementById('osArch').textContent = s.runtime.goos + '/' + s.runtime.goarch;
            };
        }
        connect();
    </script>
</body>
</html>
`
