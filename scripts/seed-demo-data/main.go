// seed-demo-data populates a database with a small demo tenant: one
// organization with a team, two users, knowledge bases at every ownership
// level, their documents, and a sample workflow.
//
// Usage: go run ./scripts/seed-demo-data
//
// Database connection: Uses standard PG* environment variables
//
// Flags:
//
//	-dry-run   List the records that would be created without writing (default: false)
//
// Records that already exist are left untouched, so the script can be run repeatedly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/config"
	"github.com/optiflow/optiflow-engine/pkg/database"
	"github.com/optiflow/optiflow-engine/pkg/store"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

const (
	demoOrgID   = "demo-org-id"
	demoTeamID  = "demo-team-id"
	adminUserID = "demo-admin-user"
	demoUserID  = "demo-user"
)

type seedRecord struct {
	kind tenant.EntityKind
	data map[string]any
}

// demoRecords is ordered so parents precede the records that reference them.
var demoRecords = []seedRecord{
	{tenant.KnowledgeBase, map[string]any{
		"id": "demo-personal-kb", "name": "Personal Knowledge",
		"ownerId": demoUserID, "isPublic": false,
	}},
	{tenant.KnowledgeBase, map[string]any{
		"id": "demo-team-kb", "name": "Product Team Knowledge",
		"teamId": demoTeamID, "organizationId": demoOrgID, "isPublic": false,
	}},
	{tenant.KnowledgeBase, map[string]any{
		"id": "demo-org-kb", "name": "Organization Knowledge",
		"organizationId": demoOrgID, "isPublic": false,
	}},
	{tenant.KnowledgeBase, map[string]any{
		"id": "demo-public-kb", "name": "Public Documentation",
		"organizationId": demoOrgID, "isPublic": true,
	}},
	{tenant.KnowledgeDocument, map[string]any{
		"id": "personal-doc-1", "title": "My Personal Notes",
		"knowledgeBaseId": "demo-personal-kb", "createdById": demoUserID,
	}},
	{tenant.KnowledgeDocument, map[string]any{
		"id": "team-doc-1", "title": "Product Roadmap",
		"knowledgeBaseId": "demo-team-kb", "createdById": adminUserID,
	}},
	{tenant.KnowledgeDocument, map[string]any{
		"id": "org-doc-1", "title": "Company Policies",
		"knowledgeBaseId": "demo-org-kb", "createdById": adminUserID,
	}},
	{tenant.KnowledgeDocument, map[string]any{
		"id": "public-doc-1", "title": "Getting Started with Optiflow",
		"knowledgeBaseId": "demo-public-kb", "createdById": adminUserID,
	}},
	{tenant.Workflow, map[string]any{
		"id": "demo-workflow-1", "name": "Email Notification Workflow",
		"organizationId": demoOrgID, "createdById": adminUserID, "teamId": demoTeamID,
		"isPublic": false,
	}},
	{tenant.AIPrompt, map[string]any{
		"id": "demo-prompt-1", "name": "Summarize Document",
		"userId": demoUserID, "organizationId": demoOrgID, "isPublic": true,
	}},
}

func main() {
	dryRun := flag.Bool("dry-run", false, "List the records that would be created without writing")
	flag.Parse()

	ctx := context.Background()

	var dbCfg config.DatabaseConfig
	if err := cleanenv.ReadEnv(&dbCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read database environment: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(ctx, &database.Config{URL: dbCfg.URL(), MaxConnections: 2}, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Seed records carry their ownership explicitly; an admin context leaves them as given.
	client := store.NewClient(store.NewPostgresExecutor(db.Pool, nil, zap.NewNop())).
		ForTenant(tenant.Context{IsAdmin: true})

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println()
	}

	created := 0
	for _, rec := range demoRecords {
		ok, err := seed(ctx, client, rec, *dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding %s %v: %v\n", rec.kind, rec.data["id"], err)
			os.Exit(1)
		}
		if ok {
			created++
		}
	}

	if *dryRun {
		fmt.Printf("\nTotal records that would be created: %d\n", created)
	} else {
		fmt.Printf("\nTotal records created: %d\n", created)
	}
}

// seed creates rec unless a record with the same id already exists.
// Returns true if the record was (or in a dry run, would be) created.
func seed(ctx context.Context, client *store.Client, rec seedRecord, dryRun bool) (bool, error) {
	id := rec.data["id"]

	existing, err := client.FindUnique(ctx, rec.kind, id)
	if err != nil {
		return false, fmt.Errorf("lookup failed: %w", err)
	}
	if existing != nil {
		fmt.Printf("  [%s] %v already exists\n", rec.kind, id)
		return false, nil
	}

	if dryRun {
		fmt.Printf("  [%s] %v would be created\n", rec.kind, id)
		return true, nil
	}

	if _, err := client.Create(ctx, rec.kind, rec.data); err != nil {
		return false, fmt.Errorf("create failed: %w", err)
	}
	fmt.Printf("  [%s] %v created\n", rec.kind, id)
	return true, nil
}
