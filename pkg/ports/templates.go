package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// TemplateSource provides the named templates of a bot.
// Sources are read once when the engine is built; rendering itself never touches them.
type TemplateSource interface {
	Templates(ctx context.Context) ([]domain.Template, error)
}

// DialogSource provides dialog definitions authored outside Go code (e.g. YAML files).
type DialogSource interface {
	Dialog(ctx context.Context) (domain.Dialog, error)
}
