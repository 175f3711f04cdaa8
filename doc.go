// Package datakit is a generic data-access layer over Bun: composable
// queries, repositories that stage changes on a unit of work, DTO
// projection, and paginated reads.
//
// Service wraps a repository for callers that want one session per call:
//
//	svc := datakit.NewService[Blog, int]()
//	res := svc.Save(ctx, &Blog{Url: "https://example.com"})
//	if !res.OK() {
//		return res.Err
//	}
package datakit
