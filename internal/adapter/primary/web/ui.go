package web

import "net/http"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>TinniCap</title>
    <style>
        body { font-family: sans-serif; max-width: 760px; margin: 40px auto; padding: 20px; }
        h1 { color: #333; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 6px; border-bottom: 1px solid #ddd; }
        .violation { color: #b00020; font-weight: bold; }
        .info { background: #f0f0f0; padding: 12px; border-radius: 5px; margin: 16px 0; }
        button { background: #007bff; color: white; border: none; padding: 6px 12px; border-radius: 4px; cursor: pointer; }
        button.secondary { background: #6c757d; }
        input[type=number] { width: 60px; }
        #feed { font-family: monospace; font-size: 12px; max-height: 220px; overflow-y: auto; }
    </style>
</head>
<body>
    <h1>TinniCap</h1>
    <div class="info">
        Enforcement mode:
        <label><input type="radio" name="mode" value="hardCap" onchange="setMode(this.value)"> Hard Cap (Enforce Limit)</label>
        <label><input type="radio" name="mode" value="warning" onchange="setMode(this.value)"> Warning Only</label>
        <span id="notice"></span>
    </div>
    <table>
        <thead><tr><th>Device</th><th>Transport</th><th>Volume</th><th>Limit</th><th></th></tr></thead>
        <tbody id="devices"><tr><td colspan="5">Loading...</td></tr></tbody>
    </table>
    <h3>Events</h3>
    <div id="feed" class="info"></div>
    <script>
        let defaultLimit = 75;

        async function loadSettings() {
            const res = await fetch('/api/settings');
            const data = await res.json();
            defaultLimit = Math.round(data.defaultLimit * 100);
            for (const el of document.getElementsByName('mode')) {
                el.checked = el.value === data.enforcementMode;
            }
        }

        async function loadDevices() {
            const res = await fetch('/api/devices');
            const devices = await res.json();
            const rows = devices.map(d => {
                const id = encodeURIComponent(d.id);
                const vol = d.hasVolume ? d.volumePercent + '%' : 'n/a';
                const cls = d.state === 'violation' ? 'violation' : '';
                const value = d.hasLimit ? d.limitPercent : defaultLimit;
                const remove = d.hasLimit ? '<button class="secondary" onclick="removeLimit(\'' + id + '\')">Remove</button>' : '';
                return '<tr><td>' + escapeHTML(d.name) + '</td><td>' + d.transport + '</td>' +
                    '<td class="' + cls + '">' + vol + '</td>' +
                    '<td><input type="number" min="0" max="100" id="limit-' + id + '" value="' + value + '">%</td>' +
                    '<td><button onclick="setLimit(\'' + id + '\')">Set</button> ' + remove + '</td></tr>';
            });
            document.getElementById('devices').innerHTML = rows.join('') || '<tr><td colspan="5">No output devices</td></tr>';
        }

        async function setLimit(id) {
            const percent = parseFloat(document.getElementById('limit-' + id).value);
            const res = await fetch('/api/limits/' + id, {
                method: 'PUT',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({percent: percent})
            });
            showNotice(await res.json());
            await loadDevices();
        }

        async function removeLimit(id) {
            const res = await fetch('/api/limits/' + id, {method: 'DELETE'});
            showNotice(await res.json());
            await loadDevices();
        }

        async function setMode(mode) {
            await fetch('/api/mode', {
                method: 'PUT',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({mode: mode})
            });
            await loadSettings();
        }

        function showNotice(data) {
            const n = data.notice;
            document.getElementById('notice').textContent = n ? n.title + ': ' + n.message : (data.error || '');
        }

        function escapeHTML(s) {
            return s.replace(/[&<>"']/g, c => ({'&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;', "'": '&#39;'}[c]));
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/api/events');
            ws.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                const line = document.createElement('div');
                let text = new Date(ev.at).toLocaleTimeString() + ' ' + ev.kind;
                if (ev.violation) {
                    const v = ev.violation;
                    text += ': ' + v.device.name + ' ' + v.attemptedPercent + '% > ' + v.limitPercent + '% (' + v.mode + ')';
                }
                line.textContent = text;
                const feed = document.getElementById('feed');
                feed.prepend(line);
                loadDevices();
            };
            ws.onclose = () => setTimeout(connect, 2000);
        }

        loadSettings().then(loadDevices);
        connect();
        setInterval(loadDevices, 3000);
    </script>
</body>
</html>`
