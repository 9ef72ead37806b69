package webhook

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/tgrelay/core/config"
	mw "github.com/m3rciful/tgrelay/core/telegram/middleware"
)

// NewRouter mounts the health probe and the webhook endpoint under every alias.
// Each alias A serves GET A and POST A/<token>; everything else is 404.
func NewRouter(opts Options) (http.Handler, error) {
	h, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	aliases := opts.Aliases
	if len(aliases) == 0 {
		aliases = config.DefaultAliases
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger(opts.Token))
	r.Use(mw.Recover)
	r.Use(chimw.StripSlashes)
	r.Use(chimw.GetHead)

	secret := mw.SecretToken(opts.SecretToken)
	for _, alias := range aliases {
		r.Get(alias, h.Health)
		r.With(secret).Post(path.Join(alias, "{"+tokenParam+"}"), h.Update(alias))
	}
	r.NotFound(http.NotFound)
	r.MethodNotAllowed(http.NotFound)
	return r, nil
}
