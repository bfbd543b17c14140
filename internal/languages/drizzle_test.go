package languages

import (
	"strings"
	"testing"
)

const schemaSource = `import { uuid, varchar } from 'drizzle-orm/pg-core';
import { devV3Schema } from './_schema';

export const projects = devV3Schema.table('projects', {
  id: uuid('id').primaryKey().defaultRandom(),
  name: varchar('name', { length: 255 }).notNull(),
});

export const poLineItems = devV3Schema.table('po_line_items', {
  id: uuid('id').primaryKey(),
  poNumber: varchar('po_number', { length: 50 }).notNull().unique(),
  projectId: uuid('project_id').references(() => projects.id),
});
`

func TestDrizzleExtractsTables(t *testing.T) {
	facts, err := NewDrizzleExtractor().Extract("src/schema/po.ts", []byte(schemaSource))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(facts.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %#v", facts.Tables)
	}

	po := facts.Tables[1]
	if po.Name != "po_line_items" || po.Variable != "poLineItems" || po.Line != 9 {
		t.Fatalf("unexpected table %#v", po)
	}
	if len(po.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %#v", po.Fields)
	}
	if keys := po.PrimaryKey(); len(keys) != 1 || keys[0] != "id" {
		t.Fatalf("unexpected primary key %#v", keys)
	}

	number := po.Fields[1]
	if number.Key != "poNumber" || number.Column != "po_number" || number.Type != "varchar" {
		t.Fatalf("unexpected field %#v", number)
	}
	if !number.NotNull || !number.Unique {
		t.Fatalf("expected notNull and unique, got %#v", number)
	}

	ref := po.Fields[2].References
	if ref == nil || ref.Variable != "projects" || ref.Field != "id" {
		t.Fatalf("unexpected reference %#v", ref)
	}
}

func TestDrizzleTableWithoutPrimaryKeyIsKept(t *testing.T) {
	facts, err := NewDrizzleExtractor().Extract("src/schema/log.ts", []byte(`export const log = pgTable('log', {
  message: text('message'),
});
`))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(facts.Tables) != 1 || len(facts.Tables[0].PrimaryKey()) != 0 {
		t.Fatalf("expected one table without key, got %#v", facts.Tables)
	}
}

func TestDrizzleSyntaxErrorIsDistinctFromNoTables(t *testing.T) {
	broken, err := NewDrizzleExtractor().Extract("src/schema/broken.ts", []byte("export const projects = devV3Schema.table('projects', {\n  id: uuid('id').primaryKey(,\n"))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if !broken.Failed() {
		t.Fatalf("expected extraction failure, got %#v", broken)
	}
	if !strings.HasPrefix(broken.Error.Reason, "syntax error near line") {
		t.Fatalf("unexpected reason %q", broken.Error.Reason)
	}
	if len(broken.Tables) != 0 {
		t.Fatalf("failed file must not carry tables")
	}

	empty, err := NewDrizzleExtractor().Extract("src/schema/index.ts", []byte("export * from './projects';\n"))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if empty.Failed() || len(empty.Tables) != 0 {
		t.Fatalf("expected a clean file with no tables, got %#v", empty)
	}
}
