package store

import (
	"strconv"
	"strings"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

const sqliteSchema = `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        ip TEXT,
        user_agent TEXT,
        mode TEXT NOT NULL CHECK (mode IN ('chat', 'evaluate')),
        user_id TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE TABLE IF NOT EXISTS evaluations (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        plan_text TEXT,
        score_total INTEGER,
        score_product INTEGER,
        score_pricing INTEGER,
        score_sales INTEGER,
        score_scale INTEGER,
        score_finance INTEGER,
        full_response TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE TABLE IF NOT EXISTS feedbacks (
        id TEXT PRIMARY KEY,
        category TEXT NOT NULL CHECK (category IN ('bug', 'improvement', 'other')),
        content TEXT NOT NULL,
        user_id TEXT,
        session_id TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS share_tokens (
        token TEXT PRIMARY KEY,
        session_id TEXT NOT NULL UNIQUE,
        created_by TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE TABLE IF NOT EXISTS insights (
        id TEXT PRIMARY KEY,
        week_start DATE NOT NULL,
        analysis TEXT NOT NULL,
        faq_additions TEXT,
        prompt_suggestions TEXT,
        knowledge_gaps TEXT,
        auto_applied BOOLEAN DEFAULT FALSE,
        user_stats TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions (created_at);
    CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
    CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages (session_id);
    CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations (created_at);
    `

// lib/pq accepts a multi-statement batch as long as it carries no parameters.
const postgresSchema = `
    CREATE TABLE IF NOT EXISTS sessions (
        id UUID PRIMARY KEY,
        ip VARCHAR(45),
        user_agent TEXT,
        mode VARCHAR(10) NOT NULL,
        user_id TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS messages (
        id UUID PRIMARY KEY,
        session_id UUID NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
        role VARCHAR(10) NOT NULL,
        content TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS evaluations (
        id UUID PRIMARY KEY,
        session_id UUID NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
        plan_text TEXT,
        score_total SMALLINT,
        score_product SMALLINT,
        score_pricing SMALLINT,
        score_sales SMALLINT,
        score_scale SMALLINT,
        score_finance SMALLINT,
        full_response TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS feedbacks (
        id UUID PRIMARY KEY,
        category VARCHAR(20) NOT NULL,
        content TEXT NOT NULL,
        user_id TEXT,
        session_id UUID,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS share_tokens (
        token VARCHAR(64) PRIMARY KEY,
        session_id UUID NOT NULL UNIQUE REFERENCES sessions (id) ON DELETE CASCADE,
        created_by TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE TABLE IF NOT EXISTS insights (
        id UUID PRIMARY KEY,
        week_start DATE NOT NULL,
        analysis TEXT NOT NULL,
        faq_additions TEXT,
        prompt_suggestions TEXT,
        knowledge_gaps TEXT,
        auto_applied BOOLEAN DEFAULT FALSE,
        user_stats JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions (created_at);
    CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
    CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages (session_id);
    CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations (created_at);
    `

func (d dialect) schema() string {
	if d == dialectPostgres {
		return postgresSchema
	}
	return sqliteSchema
}

// rebind rewrites ? placeholders into the $n form Postgres expects.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
