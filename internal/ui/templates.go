package ui

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/slotq/pkg/model"
)

// Template functions available in all templates.
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"formatTimePtr": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"fee": func(f model.Fee) string {
		return humanize.Comma(int64(f))
	},
	"gas": func(g model.Gas) string {
		return humanize.Comma(int64(g))
	},
	"statusColor": func(status model.TaskStatus) string {
		switch status {
		case model.TaskStatusPending:
			return "bg-yellow-100 text-yellow-800"
		case model.TaskStatusExecuted:
			return "bg-green-100 text-green-800"
		case model.TaskStatusCancelled:
			return "bg-gray-100 text-gray-800"
		default:
			return "bg-gray-100 text-gray-800"
		}
	},
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
}

// renderTemplate renders a template with the given data.
func renderTemplate(w io.Writer, name string, data map[string]any) error {
	content, ok := templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}

	layout, ok := templates["layout"]
	if !ok {
		return fmt.Errorf("layout template not found")
	}

	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(layout)
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}

	if _, err = tmpl.New("content").Parse(content); err != nil {
		return fmt.Errorf("parse content: %w", err)
	}

	// Add shared components.
	for compName, compContent := range templates {
		if strings.HasPrefix(compName, "components/") {
			if _, err = tmpl.New(filepath.Base(compName)).Parse(compContent); err != nil {
				return fmt.Errorf("parse component %s: %w", compName, err)
			}
		}
	}

	return tmpl.Execute(w, data)
}

// templates holds all template content.
var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
    {{if .Session}}
    <nav class="bg-white shadow-sm border-b">
        <div class="max-w-7xl mx-auto px-4 sm:px-6 lg:px-8">
            <div class="flex justify-between h-16">
                <div class="flex">
                    <a href="/" class="flex items-center px-2 py-2 text-xl font-bold text-indigo-600">
                        slotq
                    </a>
                    <div class="hidden sm:ml-6 sm:flex sm:space-x-8">
                        <a href="/" class="border-transparent text-gray-500 hover:border-gray-300 hover:text-gray-700 inline-flex items-center px-1 pt-1 border-b-2 text-sm font-medium">
                            Dashboard
                        </a>
                        <a href="/tasks" class="border-transparent text-gray-500 hover:border-gray-300 hover:text-gray-700 inline-flex items-center px-1 pt-1 border-b-2 text-sm font-medium">
                            Tasks
                        </a>
                        <a href="/schedule" class="border-transparent text-gray-500 hover:border-gray-300 hover:text-gray-700 inline-flex items-center px-1 pt-1 border-b-2 text-sm font-medium">
                            Schedule
                        </a>
                        <a href="/account" class="border-transparent text-gray-500 hover:border-gray-300 hover:text-gray-700 inline-flex items-center px-1 pt-1 border-b-2 text-sm font-medium">
                            Account
                        </a>
                    </div>
                </div>
                <div class="flex items-center">
                    <span class="text-sm text-gray-500 mr-4">{{.Session.Caller}}</span>
                    <a href="/logout" class="text-sm text-gray-500 hover:text-gray-700">Sign out</a>
                </div>
            </div>
        </div>
    </nav>
    {{end}}

    <main class="max-w-7xl mx-auto py-6 sm:px-6 lg:px-8">
        {{template "content" .}}
    </main>
</body>
</html>`,

	"login": `{{define "content"}}
<div class="min-h-screen flex items-center justify-center bg-gray-50 py-12 px-4 sm:px-6 lg:px-8">
    <div class="max-w-md w-full space-y-8">
        <div>
            <h2 class="mt-6 text-center text-3xl font-extrabold text-gray-900">
                slotq
            </h2>
            <p class="mt-2 text-center text-sm text-gray-600">
                Deferred task scheduling
            </p>
        </div>
        {{if .Error}}
        <div class="rounded-md bg-red-50 p-4">
            <div class="text-sm text-red-700">{{.Error}}</div>
        </div>
        {{end}}
        <form class="mt-8 space-y-6" action="/login" method="POST">
            <div class="space-y-4">
                <div>
                    <label for="api_key" class="block text-sm font-medium text-gray-700">API key</label>
                    <input id="api_key" name="api_key" type="password"
                           class="mt-1 appearance-none relative block w-full px-3 py-2 border border-gray-300 placeholder-gray-500 text-gray-900 rounded-md focus:outline-none focus:ring-indigo-500 focus:border-indigo-500 sm:text-sm"
                           placeholder="API key">
                </div>
                {{if .AllowAnonymous}}
                <div>
                    <label for="account" class="block text-sm font-medium text-gray-700">or account address</label>
                    <input id="account" name="account" type="text"
                           class="mt-1 appearance-none relative block w-full px-3 py-2 border border-gray-300 placeholder-gray-500 text-gray-900 rounded-md focus:outline-none focus:ring-indigo-500 focus:border-indigo-500 sm:text-sm"
                           placeholder="acct:alice">
                </div>
                {{end}}
            </div>
            <div>
                <button type="submit"
                        class="group relative w-full flex justify-center py-2 px-4 border border-transparent text-sm font-medium rounded-md text-white bg-indigo-600 hover:bg-indigo-700 focus:outline-none focus:ring-2 focus:ring-offset-2 focus:ring-indigo-500">
                    Sign in
                </button>
            </div>
        </form>
    </div>
</div>
{{end}}`,

	"dashboard": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-8">
        <h1 class="text-2xl font-semibold text-gray-900">Dashboard</h1>
        <p class="mt-1 text-sm text-gray-500">Signed in as {{.Session.Caller}} &middot; up {{.Uptime}}</p>
    </div>

    <div class="grid grid-cols-1 gap-5 sm:grid-cols-2 lg:grid-cols-4 mb-8">
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Current Slot</dt>
                    <dd class="text-lg font-semibold text-gray-900">{{.CurrentSlot}}</dd>
                </dl>
            </div>
        </div>
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Pending Tasks</dt>
                    <dd class="text-lg font-semibold text-yellow-600">{{.PendingTasks}}</dd>
                </dl>
            </div>
        </div>
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Total Tasks</dt>
                    <dd class="text-lg font-semibold text-gray-900">{{.TotalTasks}}</dd>
                </dl>
            </div>
        </div>
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Available Balance</dt>
                    <dd class="text-lg font-semibold text-green-600">{{fee .Balance.Available}}</dd>
                </dl>
            </div>
        </div>
    </div>

    <div class="bg-white shadow rounded-lg">
        <div class="px-4 py-5 sm:px-6 flex justify-between items-center">
            <h2 class="text-lg font-medium text-gray-900">Recent Tasks</h2>
            <a href="/tasks" class="text-sm text-indigo-600 hover:text-indigo-800">View all</a>
        </div>
        <div class="border-t border-gray-200">
            {{if .RecentTasks}}
            <table class="min-w-full divide-y divide-gray-200">
                <thead class="bg-gray-50">
                    <tr>
                        <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Task</th>
                        <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Status</th>
                        <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Tier</th>
                        <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Slot</th>
                        <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Fee</th>
                    </tr>
                </thead>
                <tbody class="divide-y divide-gray-200">
                    {{range .RecentTasks}}
                    <tr class="hover:bg-gray-50">
                        <td class="px-6 py-4 whitespace-nowrap text-sm font-mono">
                            <a href="/tasks/{{.ID}}" class="text-indigo-600 hover:text-indigo-800">{{truncate .ID 18}}</a>
                        </td>
                        <td class="px-6 py-4 whitespace-nowrap">{{template "status_badge" .Status}}</td>
                        <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{.Tier}}</td>
                        <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{.TargetSlot}}</td>
                        <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{fee .FeeCharged}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
            {{else}}
            <p class="px-6 py-8 text-sm text-gray-500 text-center">No tasks scheduled yet.</p>
            {{end}}
        </div>
    </div>
</div>
{{end}}`,

	"tasks/list": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-6 flex justify-between items-center">
        <h1 class="text-2xl font-semibold text-gray-900">Tasks</h1>
        <form method="GET" action="/tasks" class="flex space-x-2">
            <input type="text" name="owner" value="{{.Owner}}" placeholder="Filter by owner"
                   class="px-3 py-2 border border-gray-300 rounded-md text-sm focus:outline-none focus:ring-indigo-500 focus:border-indigo-500">
            <button type="submit" class="px-4 py-2 bg-indigo-600 text-white text-sm font-medium rounded-md hover:bg-indigo-700">Filter</button>
        </form>
    </div>

    <div class="bg-white shadow rounded-lg overflow-hidden">
        {{if .Tasks}}
        <table class="min-w-full divide-y divide-gray-200">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Task</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Status</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Tier</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Slot</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Fee</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Owner</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Created</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-200">
                {{range .Tasks}}
                <tr class="hover:bg-gray-50">
                    <td class="px-6 py-4 whitespace-nowrap text-sm font-mono">
                        <a href="/tasks/{{.ID}}" class="text-indigo-600 hover:text-indigo-800">{{truncate .ID 18}}</a>
                    </td>
                    <td class="px-6 py-4 whitespace-nowrap">{{template "status_badge" .Status}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{.Tier}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{.TargetSlot}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{fee .FeeCharged}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{.Owner}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-sm text-gray-500">{{formatTime .CreatedAt}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="px-6 py-8 text-sm text-gray-500 text-center">No tasks found.</p>
        {{end}}
    </div>

    {{template "pagination" .Pagination}}
</div>
{{end}}`,

	"tasks/detail": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-6 flex justify-between items-center">
        <div>
            <h1 class="text-2xl font-semibold text-gray-900 font-mono">{{.Task.ID}}</h1>
            <p class="mt-1 text-sm text-gray-500">Owned by {{.Task.Owner}}</p>
        </div>
        {{if .CanCancel}}
        <button hx-post="/tasks/{{.Task.ID}}/cancel"
                hx-confirm="Cancel this task? The locked fee is refunded."
                class="px-4 py-2 bg-red-600 text-white text-sm font-medium rounded-md hover:bg-red-700">
            Cancel Task
        </button>
        {{end}}
    </div>

    <div class="bg-white shadow rounded-lg mb-6">
        <div class="px-4 py-5 sm:p-6">
            <dl class="grid grid-cols-1 gap-x-4 gap-y-6 sm:grid-cols-2 lg:grid-cols-3">
                <div>
                    <dt class="text-sm font-medium text-gray-500">Status</dt>
                    <dd class="mt-1">{{template "status_badge" .Task.Status}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Tier</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{.Task.Tier}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Gas Limit</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{gas .Task.GasLimit}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Target Slot</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{.Task.TargetSlot}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Fee Locked</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{fee .Task.FeeCharged}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Fee Paid</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{fee .Task.FeePaid}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Funding</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{if .Task.Bonded}}bonded hold{{else}}escrow{{end}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Environment</dt>
                    <dd class="mt-1 text-sm text-gray-900 font-mono">{{truncate .Task.EnvironmentID 26}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Reschedules</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{.Task.Reschedules}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Created</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{formatTime .Task.CreatedAt}}</dd>
                </div>
                <div>
                    <dt class="text-sm font-medium text-gray-500">Executed</dt>
                    <dd class="mt-1 text-sm text-gray-900">{{formatTimePtr .Task.ExecutedAt}}</dd>
                </div>
                {{if .Task.LastError}}
                <div class="sm:col-span-2 lg:col-span-3">
                    <dt class="text-sm font-medium text-gray-500">Last Error</dt>
                    <dd class="mt-1 text-sm text-red-700 font-mono">{{.Task.LastError}}</dd>
                </div>
                {{end}}
            </dl>
        </div>
    </div>

    <div class="bg-white shadow rounded-lg">
        <div class="px-4 py-5 sm:px-6">
            <h2 class="text-lg font-medium text-gray-900">Cancellers</h2>
            <p class="mt-1 text-sm text-gray-500">Addresses granted cancel rights on this task.</p>
        </div>
        <div class="border-t border-gray-200 px-4 py-4 sm:px-6">
            {{if .Cancellers}}
            <ul class="space-y-1">
                {{range .Cancellers}}
                <li class="text-sm text-gray-900 font-mono">{{.}}</li>
                {{end}}
            </ul>
            {{else}}
            <p class="text-sm text-gray-500">Only the owner may cancel.</p>
            {{end}}
        </div>
    </div>
</div>
{{end}}`,

	"schedule": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-6 flex justify-between items-center">
        <div>
            <h1 class="text-2xl font-semibold text-gray-900">Schedule</h1>
            <p class="mt-1 text-sm text-gray-500">Pending load and current quotes from slot {{.CurrentSlot}}</p>
        </div>
        <form method="GET" action="/schedule" class="flex space-x-2 items-center">
            <label for="lookahead" class="text-sm text-gray-500">Lookahead</label>
            <input id="lookahead" type="number" name="lookahead" value="{{.Lookahead}}" min="1"
                   class="w-24 px-3 py-2 border border-gray-300 rounded-md text-sm focus:outline-none focus:ring-indigo-500 focus:border-indigo-500">
            <button type="submit" class="px-4 py-2 bg-indigo-600 text-white text-sm font-medium rounded-md hover:bg-indigo-700">Update</button>
        </form>
    </div>

    <div class="bg-white shadow rounded-lg overflow-hidden">
        <table class="min-w-full divide-y divide-gray-200">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">Slot</th>
                    {{range .Tiers}}
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase tracking-wider">{{.}}</th>
                    {{end}}
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-200">
                {{range .Rows}}
                <tr class="hover:bg-gray-50">
                    <td class="px-6 py-4 whitespace-nowrap text-sm font-medium text-gray-900">{{.Slot}}</td>
                    {{range .Tiers}}
                    <td class="px-6 py-4 whitespace-nowrap text-sm">
                        <span class="text-gray-500">{{.Pending}} pending</span>
                        <span class="ml-2 font-mono text-gray-900">{{fee .Quote}}</span>
                    </td>
                    {{end}}
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
{{end}}`,

	"account": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-6">
        <h1 class="text-2xl font-semibold text-gray-900">Account</h1>
        <p class="mt-1 text-sm text-gray-500 font-mono">{{.Session.Caller}}</p>
    </div>

    {{if .Error}}
    <div class="rounded-md bg-red-50 p-4 mb-6">
        <div class="text-sm text-red-700">{{.Error}}</div>
    </div>
    {{end}}

    <div class="grid grid-cols-1 gap-5 sm:grid-cols-3 mb-8">
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Bonded</dt>
                    <dd class="text-lg font-semibold text-gray-900">{{fee .Balance.Bonded}}</dd>
                </dl>
            </div>
        </div>
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Held</dt>
                    <dd class="text-lg font-semibold text-yellow-600">{{fee .Balance.Held}}</dd>
                </dl>
            </div>
        </div>
        <div class="bg-white overflow-hidden shadow rounded-lg">
            <div class="p-5">
                <dl>
                    <dt class="text-sm font-medium text-gray-500 truncate">Available</dt>
                    <dd class="text-lg font-semibold text-green-600">{{fee .Balance.Available}}</dd>
                </dl>
            </div>
        </div>
    </div>

    <div class="bg-white shadow rounded-lg">
        <div class="px-4 py-5 sm:px-6">
            <h2 class="text-lg font-medium text-gray-900">Deposit</h2>
            <p class="mt-1 text-sm text-gray-500">Add bonded funds for fees and holds.</p>
        </div>
        <div class="border-t border-gray-200 px-4 py-4 sm:px-6">
            <form method="POST" action="/account/deposit" class="flex space-x-2">
                <input type="number" name="amount" min="1" required placeholder="Amount"
                       class="px-3 py-2 border border-gray-300 rounded-md text-sm focus:outline-none focus:ring-indigo-500 focus:border-indigo-500">
                <button type="submit" class="px-4 py-2 bg-indigo-600 text-white text-sm font-medium rounded-md hover:bg-indigo-700">Deposit</button>
            </form>
        </div>
    </div>
</div>
{{end}}`,

	"error": `{{define "content"}}
<div class="px-4 py-16 sm:px-0 text-center">
    <h1 class="text-2xl font-semibold text-gray-900">{{.Message}}</h1>
    <p class="mt-4">
        <a href="/" class="text-indigo-600 hover:text-indigo-800 text-sm">Back to dashboard</a>
    </p>
</div>
{{end}}`,

	"components/status_badge": `{{define "status_badge"}}<span class="inline-flex items-center px-2.5 py-0.5 rounded-full text-xs font-medium {{statusColor .}}">{{.}}</span>{{end}}`,

	"components/pagination": `{{define "pagination"}}
<div class="flex items-center justify-between mt-4">
    <p class="text-sm text-gray-500">{{.Total}} task(s)</p>
    <div class="space-x-2">
        {{if .HasPrev}}
        <a href="?limit={{.Limit}}&offset={{.PrevOffset}}{{if .Owner}}&owner={{.Owner}}{{end}}"
           class="px-3 py-1 border border-gray-300 rounded-md text-sm text-gray-700 hover:bg-gray-50">Previous</a>
        {{end}}
        {{if .HasMore}}
        <a href="?limit={{.Limit}}&offset={{.NextOffset}}{{if .Owner}}&owner={{.Owner}}{{end}}"
           class="px-3 py-1 border border-gray-300 rounded-md text-sm text-gray-700 hover:bg-gray-50">Next</a>
        {{end}}
    </div>
</div>
{{end}}`,
}
