package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - azbench report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --primary: #2563eb;
            --ok: #16a34a;
            --warn: #d97706;
            --fail: #dc2626;
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
        }
        .container { max-width: 1280px; margin: 0 auto; padding: 2rem; }
        .card {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: 10px;
            padding: 1.5rem;
            margin-bottom: 1.5rem;
        }
        .header { display: flex; justify-content: space-between; align-items: center; gap: 1rem; flex-wrap: wrap; }
        .header h1 { font-size: 1.6rem; }
        .meta { color: var(--muted); font-size: 0.875rem; display: flex; gap: 1.5rem; flex-wrap: wrap; margin-top: 0.5rem; }
        .meta code { color: var(--text); }
        .status { padding: 0.6rem 1.2rem; border-radius: 8px; font-weight: 600; }
        .status.pass { color: var(--ok); border: 1px solid var(--ok); }
        .status.fail { color: var(--fail); border: 1px solid var(--fail); }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; }
        .metric .label { color: var(--muted); font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; }
        .metric .value { font-size: 1.5rem; font-weight: 700; }
        h2 { font-size: 1.1rem; margin-bottom: 1rem; }
        .chart { position: relative; height: 280px; }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 1.5rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        th, td { text-align: left; padding: 0.45rem 0.6rem; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 600; }
        td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
        .scroll { max-height: 480px; overflow-y: auto; }
        .ok { color: var(--ok); }
        .warn { color: var(--warn); }
        .fail { color: var(--fail); }
        .error { color: var(--fail); font-size: 0.875rem; margin-top: 0.75rem; }
        footer { text-align: center; color: var(--muted); font-size: 0.8rem; padding: 1rem; }
    </style>
</head>
<body>
<div class="container">
    <div class="card header">
        <div>
            <h1>{{.Name}}</h1>
            {{if .Description}}<p>{{.Description}}</p>{{end}}
            <div class="meta">
                <span>Run <code>{{.RunID}}</code></span>
                <span>{{.StartTime.Format "2006-01-02 15:04:05"}}</span>
                <span>{{formatDuration .Duration}}</span>
                <span>{{len .Schedule}} scenarios</span>
            </div>
            {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        </div>
        <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASSED{{else}}FAILED{{end}}</div>
    </div>

    {{with .Metrics}}
    <div class="card grid">
        <div class="metric"><div class="label">Total Requests</div><div class="value">{{formatNumber .TotalRequests}}</div></div>
        <div class="metric"><div class="label">Success Rate</div><div class="value">{{successRate .}}</div></div>
        <div class="metric"><div class="label">Error Rate</div><div class="value">{{percent .ErrorRate}}</div></div>
        <div class="metric"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}} req/s</div></div>
        <div class="metric"><div class="label">P95 Latency</div><div class="value">{{formatLatency .Latency.P95}}</div></div>
        <div class="metric"><div class="label">Max Latency</div><div class="value">{{formatLatency .Latency.Max}}</div></div>
    </div>

    <div class="card">
        <h2>Latency</h2>
        <table>
            <tr><th class="num">min</th><th class="num">mean</th><th class="num">p50</th><th class="num">p90</th><th class="num">p95</th><th class="num">p99</th><th class="num">max</th><th class="num">stddev</th></tr>
            <tr>
                <td class="num">{{formatLatency .Latency.Min}}</td>
                <td class="num">{{formatLatency .Latency.Mean}}</td>
                <td class="num">{{formatLatency .Latency.P50}}</td>
                <td class="num">{{formatLatency .Latency.P90}}</td>
                <td class="num">{{formatLatency .Latency.P95}}</td>
                <td class="num">{{formatLatency .Latency.P99}}</td>
                <td class="num">{{formatLatency .Latency.Max}}</td>
                <td class="num">{{formatLatency .Latency.StdDev}}</td>
            </tr>
        </table>
    </div>
    {{end}}

    {{if .TimeSeries}}
    <div class="charts">
        <div class="card"><h2>Latency over time (ms)</h2><div class="chart"><canvas id="latencyChart"></canvas></div></div>
        <div class="card"><h2>Throughput and errors</h2><div class="chart"><canvas id="rpsChart"></canvas></div></div>
    </div>
    {{end}}

    {{if .StatusCodes}}
    <div class="card">
        <h2>Responses</h2>
        <table>
            <tr><th>Status</th><th class="num">Count</th></tr>
            {{range .StatusCodes}}
            <tr><td class="{{statusClass .Code}}">{{statusLabel .Code}}</td><td class="num">{{formatNumber .Count}}</td></tr>
            {{end}}
        </table>
    </div>
    {{end}}

    {{if .Thresholds}}
    <div class="card">
        <h2>Thresholds</h2>
        <table>
            <tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th></tr>
            {{range .Thresholds}}
            <tr>
                <td class="{{if .Passed}}ok{{else}}fail{{end}}">{{if .Passed}}pass{{else}}fail{{end}}</td>
                <td>{{.Metric}}</td>
                <td><code>{{.Expression}}</code></td>
                <td>{{.Value}}{{if .Message}} <span class="fail">{{.Message}}</span>{{end}}</td>
            </tr>
            {{end}}
        </table>
    </div>
    {{end}}

    {{if .Schedule}}
    <div class="card">
        <h2>Schedule</h2>
        <div class="scroll">
        <table>
            <tr><th>Scenario</th><th>Executor</th><th class="num">Start</th><th class="num">Duration</th><th class="num">VUs</th><th class="num">Iterations</th><th class="num">Dropped</th><th>State</th></tr>
            {{range .Schedule}}
            <tr>
                <td>{{.Name}}</td>
                <td>{{.Executor}}</td>
                <td class="num">{{formatDuration .StartOffset}}</td>
                <td class="num">{{formatDuration .Duration}}</td>
                <td class="num">{{.MaxVUs}}</td>
                <td class="num">{{formatNumber .Iterations}}</td>
                <td class="num">{{if .Dropped}}<span class="warn">{{formatNumber .Dropped}}</span>{{else}}0{{end}}</td>
                <td>{{if .Skipped}}<span class="warn">skipped</span>{{else if .Error}}<span class="fail">{{.Error}}</span>{{else}}<span class="ok">done</span>{{end}}</td>
            </tr>
            {{end}}
        </table>
        </div>
    </div>
    {{end}}

    <footer>Generated by azbench &middot; {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</footer>
</div>

<script>
    const timeSeriesData = {{.TimeSeriesJSON}};

    if (timeSeriesData.length > 0 && typeof Chart !== 'undefined') {
        const labels = timeSeriesData.map(d => d.t + 's');
        const common = {
            responsive: true,
            maintainAspectRatio: false,
            interaction: { mode: 'index', intersect: false },
            elements: { point: { radius: 0 } },
            scales: { y: { beginAtZero: true } },
        };

        new Chart(document.getElementById('latencyChart'), {
            type: 'line',
            data: {
                labels: labels,
                datasets: [
                    { label: 'p50', data: timeSeriesData.map(d => d.p50), borderColor: '#16a34a', tension: 0.2 },
                    { label: 'p95', data: timeSeriesData.map(d => d.p95), borderColor: '#d97706', tension: 0.2 },
                    { label: 'p99', data: timeSeriesData.map(d => d.p99), borderColor: '#dc2626', tension: 0.2 },
                    { label: 'max', data: timeSeriesData.map(d => d.max), borderColor: '#94a3b8', borderDash: [4, 4], tension: 0.2 },
                ],
            },
            options: common,
        });

        new Chart(document.getElementById('rpsChart'), {
            type: 'bar',
            data: {
                labels: labels,
                datasets: [
                    { type: 'bar', label: 'requests/s', data: timeSeriesData.map(d => d.rps), backgroundColor: '#2563eb80', yAxisID: 'y' },
                    { type: 'line', label: 'error %', data: timeSeriesData.map(d => d.errorRate), borderColor: '#dc2626', yAxisID: 'errors' },
                ],
            },
            options: Object.assign({}, common, {
                scales: {
                    y: { beginAtZero: true, position: 'left' },
                    errors: { beginAtZero: true, max: 100, position: 'right', grid: { drawOnChartArea: false } },
                },
            }),
        });
    }
</script>
</body>
</html>
`
