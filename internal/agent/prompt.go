package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/chat-analytics/internal/executor"
	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
)

const rolePrompt = `You are a business intelligence assistant with access to a database.
Use the execute_sql tool to fetch data when answering questions.`

func (a *Agent) systemPrompt(schema string, now time.Time) string {
	var b strings.Builder
	b.WriteString(rolePrompt)
	b.WriteString("\n\nDATABASE SCHEMA:\n")
	b.WriteString(schema)
	b.WriteString("\n\n")
	b.WriteString(dateContext(now, a.cfg.Location, a.cfg.Dialect))
	if a.cfg.BusinessRules != "" {
		b.WriteString("\n")
		b.WriteString(a.cfg.BusinessRules)
		b.WriteString("\n")
	}
	b.WriteString("\nRULES:\n")
	b.WriteString("- Always call execute_sql before answering data questions\n")
	b.WriteString("- Only write SELECT queries\n")
	b.WriteString("- After getting data, respond clearly and concisely\n")
	fmt.Fprintf(&b, "- Format currency values nicely using the %s symbol (e.g. %s1,234.56)\n",
		a.cfg.CurrencySymbol, a.cfg.CurrencySymbol)
	b.WriteString("- If no data found, say so clearly\n")
	return b.String()
}

// dateContext tells the model the local date and how to compare UTC timestamps against it
// in the replica's dialect. The word "column" is a placeholder for the real column name.
func dateContext(now time.Time, loc *time.Location, dialect executor.Dialect) string {
	local := now.In(loc)
	today := local.Format("2006-01-02")
	month := local.Format("2006-01")
	zone := loc.String()

	var convert, todayCond, weekCond, monthCond string
	switch dialect {
	case executor.DialectPostgres:
		convert = fmt.Sprintf("column AT TIME ZONE 'UTC' AT TIME ZONE '%s'", zone)
		todayCond = fmt.Sprintf("(%s)::date = '%s'", convert, today)
		weekCond = fmt.Sprintf("(%s)::date >= '%s'::date - INTERVAL '6 days'", convert, today)
		monthCond = fmt.Sprintf("to_char(%s, 'YYYY-MM') = '%s'", convert, month)
	case executor.DialectDuckDB:
		convert = fmt.Sprintf("(column AT TIME ZONE 'UTC') AT TIME ZONE '%s'", zone)
		todayCond = fmt.Sprintf("CAST(%s AS DATE) = DATE '%s'", convert, today)
		weekCond = fmt.Sprintf("CAST(%s AS DATE) >= DATE '%s' - INTERVAL 6 DAY", convert, today)
		monthCond = fmt.Sprintf("strftime(%s, '%%Y-%%m') = '%s'", convert, month)
	default:
		_, offsetSeconds := local.Zone()
		minutes := offsetSeconds / 60
		sign := "+"
		if minutes < 0 {
			sign = "-"
			minutes = -minutes
		}
		offset := fmt.Sprintf("'%s%d minutes'", sign, minutes)

		convert = fmt.Sprintf("datetime(column, %s)", offset)
		todayCond = fmt.Sprintf("DATE(datetime(column, %s)) = '%s'", offset, today)
		weekCond = fmt.Sprintf("datetime(column, %s) >= datetime('now', '-6 days', %s)", offset, offset)
		monthCond = fmt.Sprintf("strftime('%%Y-%%m', datetime(column, %s)) = '%s'", offset, month)
	}

	dbName := string(dialect)
	if dbName == "" {
		dbName = string(executor.DialectSQLite)
	}

	return fmt.Sprintf(`CURRENT DATE & TIME:
- Today's date : %s
- Current time : %s
- Timezone     : %s
- Database     : %s
- DB stores datetimes in UTC, always convert before date comparisons

HOW TO HANDLE DATES in SQL (replace 'column' with actual column name):
- Convert to local time : %s
- Filter for today      : %s
- Filter for this week  : %s
- Filter for this month : %s
`, today, local.Format("2006-01-02 15:04:05"), zone, dbName, convert, todayCond, weekCond, monthCond)
}

// historyMessages converts stored turns into model messages, oldest first.
func historyMessages(history []model.Message) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history))
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: turn.Content})
	}
	return messages
}
