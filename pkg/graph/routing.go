package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const projectNotificationCypher = `
	MERGE (n:Notification {id: $id})
	SET n.provider_id = $provider_id,
		n.status = $status,
		n.title = $title,
		n.reason = $reason,
		n.analysed_at = $analysed_at
	WITH n
	UNWIND $issns AS issn
	MERGE (j:Journal {issn: issn})
	MERGE (n)-[:PUBLISHED_IN]->(j)
`

const projectRoutesCypher = `
	MATCH (n:Notification {id: $id})
	UNWIND $repository_ids AS repository_id
	MERGE (r:Repository {id: repository_id})
	MERGE (n)-[e:ROUTED_TO]->(r)
	SET e.analysed_at = $analysed_at
`

// RoutingGraph records dispositions as Notification-[:ROUTED_TO]->Repository edges
type RoutingGraph struct {
	client *Client
	logger ectologger.Logger
}

// NewRoutingGraph creates a routing graph projection
func NewRoutingGraph(client *Client, logger ectologger.Logger) *RoutingGraph {
	return &RoutingGraph{
		client: client,
		logger: logger,
	}
}

// RecordOutcome projects a terminal notification. Replaying the same outcome is a no-op.
func (g *RoutingGraph) RecordOutcome(ctx context.Context, n *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RoutingGraph.RecordOutcome")
	defer span.End()

	params := notificationParams(n)

	_, err := g.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, projectNotificationCypher, params)
		if err != nil {
			return nil, err
		}
		if _, err := result.Consume(ctx); err != nil {
			return nil, err
		}
		if n.Routed == nil || len(n.Routed.RepositoryIDs) == 0 {
			return nil, nil
		}
		result, err = tx.Run(ctx, projectRoutesCypher, map[string]any{
			"id":             n.ID,
			"repository_ids": n.Routed.RepositoryIDs,
			"analysed_at":    params["analysed_at"],
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": n.ID,
			"status":          n.Status,
		}).Error("Failed to project notification into graph")
		return err
	}
	return nil
}

// RoutedRepositories returns the repositories a notification was routed to
func (g *RoutingGraph) RoutedRepositories(ctx context.Context, notificationID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RoutingGraph.RoutedRepositories")
	defer span.End()

	res, err := g.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Notification {id: $id})-[:ROUTED_TO]->(r:Repository)
			RETURN r.id AS id
			ORDER BY id
		`, map[string]any{"id": notificationID})
		if err != nil {
			return nil, err
		}
		return collectIDs(ctx, result)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := res.([]string)
	return ids, nil
}

// RoutedNotifications returns the most recently analysed notifications routed to a repository
func (g *RoutingGraph) RoutedNotifications(ctx context.Context, repositoryID string, limit int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RoutingGraph.RoutedNotifications")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 100
	}

	res, err := g.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n:Notification)-[e:ROUTED_TO]->(:Repository {id: $id})
			RETURN n.id AS id
			ORDER BY e.analysed_at DESC, id
			LIMIT $limit
		`, map[string]any{"id": repositoryID, "limit": limit})
		if err != nil {
			return nil, err
		}
		return collectIDs(ctx, result)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := res.([]string)
	return ids, nil
}

func collectIDs(ctx context.Context, result neo4j.ResultWithContext) ([]string, error) {
	ids := []string{}
	for result.Next(ctx) {
		if id, ok := result.Record().Get("id"); ok {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids, result.Err()
}

func notificationParams(n *models.Notification) map[string]any {
	var (
		reason     string
		analysedAt time.Time
	)
	switch {
	case n.Routed != nil:
		reason, analysedAt = n.Routed.Reason, n.Routed.AnalysedAt
	case n.Failed != nil:
		reason, analysedAt = n.Failed.Reason, n.Failed.AnalysedAt
	}
	if analysedAt.IsZero() {
		analysedAt = n.UpdatedAt
	}

	issns := []string{}
	for _, issn := range n.Metadata.Journal.ISSNs() {
		if v := normalizers.ISSN(issn); v != "" {
			issns = append(issns, v)
		}
	}

	return map[string]any{
		"id":          n.ID,
		"provider_id": n.ProviderID,
		"status":      string(n.Status),
		"title":       n.Metadata.Article.Title,
		"reason":      reason,
		"analysed_at": analysedAt.UTC().Format(time.RFC3339),
		"issns":       issns,
	}
}
