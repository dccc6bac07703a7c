// Package org resolves the tenant a request belongs to.
package org

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
)

// Resolver maps an incoming request to its org, either by the X-Org-ID
// header or by the subdomain slug of the Host.
type Resolver struct {
	orgs       repository.OrgRepository
	baseDomain string
}

// NewResolver constructs a Resolver. baseDomain is the shared suffix under
// which org subdomains live, e.g. "auth.example.com".
func NewResolver(orgs repository.OrgRepository, baseDomain string) *Resolver {
	return &Resolver{orgs: orgs, baseDomain: baseDomain}
}

// Resolve finds the org for the request. The header wins over the host so
// internal callers can address any tenant.
func (r *Resolver) Resolve(ctx context.Context, host, orgIDHeader string) (domain.Org, error) {
	if orgIDHeader != "" {
		orgID, err := strconv.ParseInt(orgIDHeader, 10, 64)
		if err != nil {
			return domain.Org{}, fmt.Errorf("parse org header: %w", err)
		}
		return r.orgs.GetOrg(ctx, orgID)
	}

	slug := r.slugFromHost(host)
	if slug == "" {
		return domain.Org{}, fmt.Errorf("no org in host %q", host)
	}
	return r.orgs.GetOrgBySlug(ctx, slug)
}

func (r *Resolver) slugFromHost(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if r.baseDomain == "" || !strings.HasSuffix(host, "."+r.baseDomain) {
		return ""
	}
	sub := strings.TrimSuffix(host, "."+r.baseDomain)
	if strings.Contains(sub, ".") {
		return ""
	}
	return sub
}
