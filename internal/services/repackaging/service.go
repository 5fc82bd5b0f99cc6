package repackaging

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/kafka"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

type ContentPackageRepository interface {
	Request(ctx context.Context, packages []models.ContentPackage) error
}

type CommandPublisher interface {
	PublishRepackageCommand(ctx context.Context, cmd *kafka.RepackageCommand) error
}

// Service records the derived packages a routed notification should carry and asks
// the packaging workers to produce them. Links point at the router's content
// endpoint and become available once the workers complete.
type Service struct {
	logger    ectologger.Logger
	packages  ContentPackageRepository
	publisher CommandPublisher
	baseURL   string
}

func NewService(logger ectologger.Logger, packages ContentPackageRepository, publisher CommandPublisher, baseURL string) *Service {
	return &Service{
		logger:    logger,
		packages:  packages,
		publisher: publisher,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Convert implements routing.Repackager
func (s *Service) Convert(ctx context.Context, notificationID, sourceFormat string, targetFormats []string) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "repackaging.Convert")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notificationID,
		"source_format":   sourceFormat,
	})

	targets := make([]string, 0, len(targetFormats))
	seen := map[string]bool{sourceFormat: true}
	for _, f := range targetFormats {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		targets = append(targets, f)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	packages := make([]models.ContentPackage, 0, len(targets))
	for _, f := range targets {
		packages = append(packages, models.ContentPackage{
			NotificationID: notificationID,
			Format:         f,
			SourceFormat:   sourceFormat,
			Status:         models.ContentPackageRequested,
			URL:            s.contentURL(notificationID, f),
		})
	}
	if err := s.packages.Request(ctx, packages); err != nil {
		metrics.RepackagingTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("recording package requests: %w", err)
	}

	if s.publisher != nil {
		err := s.publisher.PublishRepackageCommand(ctx, &kafka.RepackageCommand{
			NotificationID: notificationID,
			SourceFormat:   sourceFormat,
			TargetFormats:  targets,
		})
		if err != nil {
			metrics.RepackagingTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("requesting repackaging: %w", err)
		}
	}

	links := make([]models.Link, 0, len(targets))
	for _, f := range targets {
		links = append(links, models.Link{
			Type:      "package",
			Format:    "application/zip",
			Packaging: f,
			Access:    "router",
			URL:       s.contentURL(notificationID, f),
		})
	}

	metrics.RepackagingTotal.WithLabelValues("requested").Inc()
	log.Infof("Requested %d derived packages", len(links))
	return links, nil
}

func (s *Service) contentURL(notificationID, format string) string {
	return fmt.Sprintf("%s/api/v1/notifications/%s/content/%s", s.baseURL, url.PathEscape(notificationID), url.PathEscape(format))
}
