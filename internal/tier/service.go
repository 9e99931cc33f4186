package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/activity"
	"github.com/gftdcojp/storage-tiers/internal/meta"
	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/gftdcojp/storage-tiers/internal/size"
	"github.com/gftdcojp/storage-tiers/internal/stats"
	"github.com/gftdcojp/storage-tiers/internal/types"
	"go.uber.org/zap"
)

// Defaults of a new tier.
const (
	DefaultReplicas        = 3
	DefaultDataFragments   = 1
	DefaultParityFragments = 0
	DefaultDataPlacement   = types.PlacementSpread
)

// CreateTierRequest creates a tier. Nil placement fields take the defaults.
type CreateTierRequest struct {
	Name            string   `json:"name"`
	NodePools       []string `json:"node_pools"`
	CloudPools      []string `json:"cloud_pools"`
	Replicas        *int     `json:"replicas,omitempty"`
	DataFragments   *int     `json:"data_fragments,omitempty"`
	ParityFragments *int     `json:"parity_fragments,omitempty"`
	DataPlacement   *string  `json:"data_placement,omitempty"`
}

// UpdateTierRequest changes the tier called Name. Nil fields keep their
// current value. NodePools and CloudPools replace only the pools of their
// own class.
type UpdateTierRequest struct {
	Name            string    `json:"name"`
	NewName         *string   `json:"new_name,omitempty"`
	Replicas        *int      `json:"replicas,omitempty"`
	DataFragments   *int      `json:"data_fragments,omitempty"`
	ParityFragments *int      `json:"parity_fragments,omitempty"`
	DataPlacement   *string   `json:"data_placement,omitempty"`
	NodePools       *[]string `json:"node_pools,omitempty"`
	CloudPools      *[]string `json:"cloud_pools,omitempty"`
}

// TierOrderRequest names one tier of a new policy.
type TierOrderRequest struct {
	Order int    `json:"order"`
	Tier  string `json:"tier"`
}

// CreatePolicyRequest creates a tiering policy.
type CreatePolicyRequest struct {
	Name  string             `json:"name"`
	Tiers []TierOrderRequest `json:"tiers"`
}

// ServiceConfig holds dependencies for the tier service.
type ServiceConfig struct {
	Meta     meta.Store
	Stats    stats.Aggregator
	Activity activity.Dispatcher
	Logger   *zap.Logger
}

// Service implements the administrative tier and tiering policy operations.
// It keeps no state of its own: every call reads the current config store
// snapshot and writes through Commit.
type Service struct {
	meta     meta.Store
	stats    stats.Aggregator
	activity activity.Dispatcher
	logger   *zap.Logger
}

// NewService creates a new tier service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		meta:     cfg.Meta,
		stats:    cfg.Stats,
		activity: cfg.Activity,
		logger:   cfg.Logger,
	}
}

func (s *Service) system(systemID string) (*types.System, error) {
	sys, err := s.meta.System(systemID)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSystem, systemID)
	}
	return sys, err
}

func findTier(sys *types.System, name string) (*types.Tier, error) {
	t, ok := sys.TiersByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTier, name)
	}
	return t, nil
}

func findPolicy(sys *types.System, name string) (*types.TieringPolicy, error) {
	p, ok := sys.TieringPoliciesByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTieringPolicy, name)
	}
	return p, nil
}

// resolvePools maps pool names to ids, requiring every pool to be a cloud
// pool when cloud is set and a node pool otherwise.
func resolvePools(sys *types.System, names []string, cloud bool) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		p, ok := sys.PoolsByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchPool, name)
		}
		if p.IsCloud() != cloud {
			if cloud {
				return nil, fmt.Errorf("%w: node pool %s in cloud_pools", ErrIllegalPoolClassification, name)
			}
			return nil, fmt.Errorf("%w: cloud pool %s in node_pools", ErrIllegalPoolClassification, name)
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func poolIDs(pools []*types.Pool) []string {
	ids := make([]string, 0, len(pools))
	for _, p := range pools {
		ids = append(ids, p.ID)
	}
	return ids
}

func validatePlacement(doc meta.TierDoc) error {
	if _, err := types.ParsePlacement(doc.DataPlacement); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlacement, err)
	}
	if doc.Replicas < 1 {
		return fmt.Errorf("%w: replicas must be >= 1, got %d", ErrInvalidPlacement, doc.Replicas)
	}
	if doc.DataFragments < 1 {
		return fmt.Errorf("%w: data_fragments must be >= 1, got %d", ErrInvalidPlacement, doc.DataFragments)
	}
	if doc.ParityFragments < 0 {
		return fmt.Errorf("%w: parity_fragments must be >= 0, got %d", ErrInvalidPlacement, doc.ParityFragments)
	}
	return nil
}

// CreateTier creates a tier from the defaults overridden by req and returns
// its report without live stats.
func (s *Service) CreateTier(ctx context.Context, systemID string, req CreateTierRequest) (*TierInfo, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: tier name is required", ErrBadRequest)
	}
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}

	nodeIDs, err := resolvePools(sys, req.NodePools, false)
	if err != nil {
		return nil, err
	}
	cloudIDs, err := resolvePools(sys, req.CloudPools, true)
	if err != nil {
		return nil, err
	}

	doc := meta.TierDoc{
		ID:              s.meta.GenerateID(),
		System:          sys.ID,
		Name:            req.Name,
		Replicas:        DefaultReplicas,
		DataFragments:   DefaultDataFragments,
		ParityFragments: DefaultParityFragments,
		DataPlacement:   string(DefaultDataPlacement),
		Pools:           append(nodeIDs, cloudIDs...),
	}
	if req.Replicas != nil {
		doc.Replicas = *req.Replicas
	}
	if req.DataFragments != nil {
		doc.DataFragments = *req.DataFragments
	}
	if req.ParityFragments != nil {
		doc.ParityFragments = *req.ParityFragments
	}
	if req.DataPlacement != nil {
		doc.DataPlacement = *req.DataPlacement
	}
	if err := validatePlacement(doc); err != nil {
		return nil, err
	}

	s.logger.Info("creating tier",
		zap.String("system", sys.ID),
		zap.String("tier", doc.Name),
		zap.String("data_placement", doc.DataPlacement),
		zap.Int("replicas", doc.Replicas),
		zap.Int("pools", len(doc.Pools)),
	)
	if err := s.meta.Commit(ctx, meta.Changes{Insert: meta.Inserts{Tiers: []meta.TierDoc{doc}}}); err != nil {
		return nil, fmt.Errorf("creating tier %s: %w", doc.Name, err)
	}

	return s.reportCommittedTier(sys.ID, doc.Name)
}

// ReadTier returns the capacity report of a tier from live pool stats.
func (s *Service) ReadTier(ctx context.Context, systemID, name string) (*TierInfo, error) {
	start := time.Now()
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	t, err := findTier(sys, name)
	if err != nil {
		return nil, err
	}

	pools, err := s.stats.AggregateByPool(ctx, sys.ID, poolNames(t.Pools))
	if err != nil {
		return nil, fmt.Errorf("aggregating pool stats: %w", err)
	}
	info, err := GetTierInfo(t, pools, s.logger)
	if err != nil {
		return nil, err
	}

	metrics.ObserveTierStorage(sys.ID, t.Name, info.Storage)
	metrics.ReportDuration.WithLabelValues("tier").Observe(time.Since(start).Seconds())
	return info, nil
}

// UpdateTier applies the fields set in req. Pool lists are validated before
// anything is committed. When the tier serves a bucket through its policy an
// audit event is dispatched on behalf of actor.
func (s *Service) UpdateTier(ctx context.Context, systemID, actor string, req UpdateTierRequest) (*TierInfo, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	t, err := findTier(sys, req.Name)
	if err != nil {
		return nil, err
	}

	nodePools, cloudPools := t.PartitionPools()
	nodeIDs, cloudIDs := poolIDs(nodePools), poolIDs(cloudPools)
	if req.NodePools != nil {
		if nodeIDs, err = resolvePools(sys, *req.NodePools, false); err != nil {
			return nil, err
		}
	}
	if req.CloudPools != nil {
		if cloudIDs, err = resolvePools(sys, *req.CloudPools, true); err != nil {
			return nil, err
		}
	}
	if req.NewName != nil && *req.NewName == "" {
		return nil, fmt.Errorf("%w: new tier name is empty", ErrBadRequest)
	}

	pools := append(nodeIDs, cloudIDs...)
	patch := meta.TierPatch{
		ID:              t.ID,
		Name:            req.NewName,
		Replicas:        req.Replicas,
		DataFragments:   req.DataFragments,
		ParityFragments: req.ParityFragments,
		DataPlacement:   req.DataPlacement,
		Pools:           &pools,
	}

	merged := meta.TierDoc{
		Replicas:        t.Replicas,
		DataFragments:   t.DataFragments,
		ParityFragments: t.ParityFragments,
		DataPlacement:   string(t.DataPlacement),
	}
	patch.Apply(&merged)
	if err := validatePlacement(merged); err != nil {
		return nil, err
	}

	if err := s.meta.Commit(ctx, meta.Changes{Update: meta.Updates{Tiers: []meta.TierPatch{patch}}}); err != nil {
		return nil, fmt.Errorf("updating tier %s: %w", t.Name, err)
	}

	after, err := s.system(sys.ID)
	if err != nil {
		return nil, err
	}
	newName := t.Name
	if req.NewName != nil {
		newName = *req.NewName
	}
	updated, err := findTier(after, newName)
	if err != nil {
		return nil, err
	}

	if bucket := after.FindBucketByTier(t.ID); bucket != nil {
		if desc := auditDescription(req, actor, t, updated); desc != "" {
			s.activity.Activity(ctx, activity.Event{
				Event:  activity.EventEditPolicy,
				Level:  "info",
				System: sys.ID,
				Actor:  actor,
				Bucket: bucket.ID,
				Desc:   desc,
			})
		}
	}
	if newName != t.Name {
		metrics.ForgetTier(sys.ID, t.Name)
	}

	s.logger.Info("tier updated", zap.String("system", sys.ID), zap.String("tier", newName))
	return GetTierInfo(updated, nil, s.logger)
}

// DeleteTier removes a tier. Policies that still reference it are left alone.
func (s *Service) DeleteTier(ctx context.Context, systemID, name string) error {
	sys, err := s.system(systemID)
	if err != nil {
		return err
	}
	t, err := findTier(sys, name)
	if err != nil {
		return err
	}

	s.logger.Info("deleting tier", zap.String("system", sys.ID), zap.String("tier", name))
	if err := s.meta.Commit(ctx, meta.Changes{Remove: meta.Removals{Tiers: []string{t.ID}}}); err != nil {
		return fmt.Errorf("deleting tier %s: %w", name, err)
	}
	metrics.ForgetTier(sys.ID, name)
	return nil
}

// CreatePolicy creates a tiering policy over existing tiers and returns its
// report without live stats.
func (s *Service) CreatePolicy(ctx context.Context, systemID string, req CreatePolicyRequest) (*PolicyInfo, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: policy name is required", ErrBadRequest)
	}
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}

	doc := meta.PolicyDoc{
		ID:     s.meta.GenerateID(),
		System: sys.ID,
		Name:   req.Name,
		Tiers:  make([]meta.TierOrderDoc, 0, len(req.Tiers)),
	}
	for _, to := range req.Tiers {
		t, err := findTier(sys, to.Tier)
		if err != nil {
			return nil, err
		}
		doc.Tiers = append(doc.Tiers, meta.TierOrderDoc{Order: to.Order, Tier: t.ID})
	}

	s.logger.Info("creating tiering policy",
		zap.String("system", sys.ID),
		zap.String("policy", doc.Name),
		zap.Int("tiers", len(doc.Tiers)),
	)
	if err := s.meta.Commit(ctx, meta.Changes{Insert: meta.Inserts{TieringPolicies: []meta.PolicyDoc{doc}}}); err != nil {
		return nil, fmt.Errorf("creating tiering policy %s: %w", doc.Name, err)
	}

	after, err := s.system(sys.ID)
	if err != nil {
		return nil, err
	}
	p, err := findPolicy(after, doc.Name)
	if err != nil {
		return nil, err
	}
	return GetTieringPolicyInfo(p, nil, s.logger)
}

// UpdatePolicy always fails; a policy is replaced by delete and create.
func (s *Service) UpdatePolicy(ctx context.Context, systemID string, req CreatePolicyRequest) (*PolicyInfo, error) {
	return nil, fmt.Errorf("%w: tiering policy update, delete and recreate %s instead", ErrUnsupported, req.Name)
}

// GetPolicyPools returns the tier order of a policy without capacity.
func (s *Service) GetPolicyPools(ctx context.Context, systemID, name string) (*PolicyInfo, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	p, err := findPolicy(sys, name)
	if err != nil {
		return nil, err
	}
	return GetTieringPolicyInfo(p, nil, s.logger)
}

// ReadPolicy returns the capacity report of a policy. Stats for the pools of
// all its tiers are fetched in one call.
func (s *Service) ReadPolicy(ctx context.Context, systemID, name string) (*PolicyInfo, error) {
	start := time.Now()
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	p, err := findPolicy(sys, name)
	if err != nil {
		return nil, err
	}

	var names []string
	seen := make(map[string]bool)
	for _, to := range p.Tiers {
		for _, pool := range to.Tier.Pools {
			if !seen[pool.Name] {
				seen[pool.Name] = true
				names = append(names, pool.Name)
			}
		}
	}

	pools, err := s.stats.AggregateByPool(ctx, sys.ID, names)
	if err != nil {
		return nil, fmt.Errorf("aggregating pool stats: %w", err)
	}
	if pools == nil {
		pools = map[string]size.Storage{}
	}
	info, err := GetTieringPolicyInfo(p, pools, s.logger)
	if err != nil {
		return nil, err
	}

	metrics.ObservePolicyStorage(sys.ID, p.Name, info.Storage)
	metrics.ReportDuration.WithLabelValues("policy").Observe(time.Since(start).Seconds())
	return info, nil
}

// DeletePolicy removes a tiering policy. Buckets bound to it are left alone.
func (s *Service) DeletePolicy(ctx context.Context, systemID, name string) error {
	sys, err := s.system(systemID)
	if err != nil {
		return err
	}
	p, err := findPolicy(sys, name)
	if err != nil {
		return err
	}

	s.logger.Info("deleting tiering policy", zap.String("system", sys.ID), zap.String("policy", name))
	if err := s.meta.Commit(ctx, meta.Changes{Remove: meta.Removals{TieringPolicies: []string{p.ID}}}); err != nil {
		return fmt.Errorf("deleting tiering policy %s: %w", name, err)
	}
	metrics.ForgetPolicy(sys.ID, name)
	return nil
}

func (s *Service) reportCommittedTier(systemID, name string) (*TierInfo, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return nil, err
	}
	t, err := findTier(sys, name)
	if err != nil {
		return nil, err
	}
	return GetTierInfo(t, nil, s.logger)
}
