package dashboard

import "html/template"

var funcs = template.FuncMap{
	"rupees": FormatRupees,
}

var pageTemplate = template.Must(template.New("dashboard").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.RefreshSeconds}}">
<title>OpsAgent Live Dashboard</title>
<style>
body { font-family: sans-serif; background: #111; color: #eee; margin: 0; display: flex; }
aside { width: 240px; padding: 16px; background: #1b1b1b; min-height: 100vh; }
main { flex: 1; padding: 16px 32px; }
.metrics { display: flex; gap: 16px; flex-wrap: wrap; }
.metric { background: #1f1f1f; padding: 12px 20px; border-radius: 6px; min-width: 160px; }
.metric .value { font-size: 1.6em; }
.bar-row { display: flex; align-items: center; margin: 4px 0; }
.bar-name { width: 160px; }
.bar { height: 18px; border-radius: 3px; }
table { border-collapse: collapse; width: 100%; }
td, th { padding: 4px 8px; border-bottom: 1px solid #333; text-align: left; }
.ok { color: #5c5; } .err { color: #e55; }
</style>
</head>
<body>
<aside>
<h3>System Status</h3>
{{if .Error}}<p class="err">🔴 {{.Error}}</p>{{else}}<p class="ok">🟢 Connected to Google Sheets</p>{{end}}
{{if .Email}}<p>{{.Email}}</p>{{end}}
<form method="post" action="/dashboard/sync?email={{.Email}}"><button type="submit">🔄 Force Sync Now</button></form>
<p><a href="/dashboard/export.xlsx?email={{.Email}}">⬇ Export XLSX</a></p>
{{if .Updated}}<p><small>Updated {{.Updated}}</small></p>{{end}}
</aside>
<main>
<h1>⚡ OpsAgent Command Center</h1>
{{if .Empty}}
<p>👋 Waiting for data... Send your first WhatsApp message (e.g., 'Sold 10 units of Maggi') to see it here!</p>
{{else}}
<div class="metrics">
  <div class="metric">💰 Total Revenue<div class="value">{{rupees .Metrics.TotalRevenue}}</div></div>
  <div class="metric">📦 Low Stock Alerts<div class="value">{{.Metrics.LowStock}} Items</div></div>
  <div class="metric">🛒 Sales Recorded<div class="value">{{.Metrics.SalesCount}}</div></div>
  <div class="metric">📒 Pending Khata<div class="value">{{rupees .Metrics.PendingKhata}}</div></div>
  <div class="metric">🧑‍🔧 Absent Staff<div class="value">{{.Metrics.AbsentStaff}}</div></div>
</div>
<hr>
<h2>Real-time Inventory Levels</h2>
{{range .Bars}}
<div class="bar-row">
  <span class="bar-name">{{.Name}}</span>
  <div class="bar" style="width: {{.Width}}%; background: {{.Color}}"></div>
  <span>&nbsp;{{.Quantity}}{{if .Low}} ⚠️{{end}}</span>
</div>
{{end}}
{{if .Sales}}
<h2>Recent Sales (WhatsApp Stream)</h2>
<table>
<tr><th>Item Name</th><th>Quantity</th><th>Sold Price</th><th>Date</th><th>Payment Mode</th><th>Customer</th></tr>
{{range .Sales}}<tr><td>{{.ItemName}}</td><td>{{.Quantity}}</td><td>{{rupees .Price}}</td><td>{{.Date}}</td><td>{{.PaymentMode}}</td><td>{{.Customer}}</td></tr>
{{end}}
</table>
{{end}}
{{end}}
</main>
</body>
</html>
`))

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>OpsAgent Dashboard Login</title></head>
<body>
<h1>⚡ OpsAgent Dashboard</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form method="post" action="/dashboard/login">
  <input type="hidden" name="email" value="{{.Email}}">
  <label>Password <input type="password" name="password" autofocus></label>
  <button type="submit">Login</button>
</form>
</body>
</html>
`))
