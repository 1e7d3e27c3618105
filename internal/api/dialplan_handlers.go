package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tenantpbx/tenantpbx/internal/cache"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/rules"
	"github.com/tenantpbx/tenantpbx/internal/xmldoc"
)

// Document kinds reported to the observer.
const (
	kindDomain  = "domain"
	kindDefault = "default"
)

// handleDomainDialplan serves GET /dialplan/{domain}/{context}[.xml].
func (s *Server) handleDomainDialplan(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(chi.URLParam(r, "domain"))
	s.serveDomain(w, r, domain, strings.TrimSuffix(chi.URLParam(r, "context"), ".xml"))
}

// handleDefaultDialplan serves GET /dialplan/default/{context}[.xml].
func (s *Server) handleDefaultDialplan(w http.ResponseWriter, r *http.Request) {
	s.serveDefault(w, r, strings.TrimSuffix(chi.URLParam(r, "context"), ".xml"))
}

// handleXMLCurl answers a mod_xml_curl fetch. Anything other than a
// dialplan request for a known domain gets the "not found" result so the
// switch falls back to its local configuration.
func (s *Server) handleXMLCurl(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("xml-curl: malformed form", "error", err)
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}

	if r.Form.Get("section") != "dialplan" {
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}

	ruleContext := firstNonEmpty(r.Form.Get("Caller-Context"), r.Form.Get("Hunt-Context"))
	if ruleContext == "" {
		ruleContext = s.deps.Resolver.DefaultContext()
	}
	if ruleContext == s.deps.Resolver.DefaultContext() {
		s.serveDefault(w, r, ruleContext)
		return
	}

	domain := strings.ToLower(firstNonEmpty(r.Form.Get("variable_domain_name"), r.Form.Get("domain_name")))
	if domain == "" {
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}
	s.serveDomain(w, r, domain, ruleContext)
}

func (s *Server) serveDomain(w http.ResponseWriter, r *http.Request, domain, ruleContext string) {
	if msg := validateContextName("context", ruleContext); msg != "" {
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}
	// The default context resolves from the default rules for every
	// domain, so the switch gets the same document.
	if ruleContext == s.deps.Resolver.DefaultContext() {
		s.serveDefault(w, r, ruleContext)
		return
	}

	tenant, err := s.deps.Tenants.TenantForDomain(r.Context(), domain)
	if err != nil {
		s.logger.Error("dialplan: tenant lookup failed", "domain", domain, "error", err)
		s.observeRender(kindDomain, "error")
		writeXML(w, http.StatusServiceUnavailable, xmldoc.NotFound())
		return
	}
	if tenant == "" {
		s.observeRender(kindDomain, "not_found")
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}

	s.serveDocument(w, r, kindDomain, s.deps.Rules.Tenant(tenant), ruleContext, domain+"/"+ruleContext,
		func(rs []models.DialplanRule) (string, error) {
			return xmldoc.RenderDomain(domain, ruleContext, rs)
		})
}

func (s *Server) serveDefault(w http.ResponseWriter, r *http.Request, ruleContext string) {
	if msg := validateContextName("context", ruleContext); msg != "" {
		writeXML(w, http.StatusOK, xmldoc.NotFound())
		return
	}
	s.serveDocument(w, r, kindDefault, s.deps.Rules.Defaults(), ruleContext, ruleContext,
		func(rs []models.DialplanRule) (string, error) {
			return xmldoc.RenderDefault(ruleContext, rs)
		})
}

// serveDocument answers from the document cache or renders the context's
// enabled rules and caches the result.
func (s *Server) serveDocument(
	w http.ResponseWriter,
	r *http.Request,
	kind string,
	scope *rules.Scope,
	ruleContext, key string,
	render func([]models.DialplanRule) (string, error),
) {
	ctx := r.Context()
	logger := s.logger.With("kind", kind, "scope", scope.CacheScope(), "key", key)

	entry := s.cached(ctx, scope.CacheScope(), key)
	if entry.Found {
		s.observeRender(kind, "ok")
		writeXML(w, http.StatusOK, entry.Document)
		return
	}

	rs, err := scope.List(ctx, ruleContext, false)
	if err != nil {
		logger.Error("dialplan: listing rules failed", "error", err)
		s.observeRender(kind, "error")
		writeXML(w, http.StatusServiceUnavailable, xmldoc.NotFound())
		return
	}

	doc, err := render(rs)
	if err != nil {
		logger.Error("dialplan: rendering failed", "error", err)
		s.observeRender(kind, "error")
		writeXML(w, http.StatusInternalServerError, xmldoc.NotFound())
		return
	}

	if err := s.deps.Documents.Set(ctx, scope.CacheScope(), entry.Version, key, doc); err != nil {
		logger.Warn("dialplan: caching document failed", "error", err)
	}
	s.observeRender(kind, "ok")
	writeXML(w, http.StatusOK, doc)
}

// cached looks a document up, treating cache errors as misses. A failed
// lookup returns an entry with no version, which Set ignores.
func (s *Server) cached(ctx context.Context, scope, key string) cache.Entry {
	entry, err := s.deps.Documents.Get(ctx, scope, key)
	switch {
	case err != nil:
		s.logger.Warn("dialplan: document cache lookup failed", "scope", scope, "error", err)
		s.observeCache("error")
		return cache.Entry{}
	case entry.Found:
		s.observeCache("hit")
	default:
		if _, nop := s.deps.Documents.(cache.Nop); !nop {
			s.observeCache("miss")
		}
	}
	return entry
}

func (s *Server) observeRender(kind, result string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveRender(kind, result)
	}
}

func (s *Server) observeCache(result string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveCache(result)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
