package node

import "errors"

var (
	ErrClusterIDRequired     = errors.New("cluster id is required")
	ErrAddressRequired       = errors.New("listen address is required")
	ErrWildcardAddress       = errors.New("listen address must be a concrete address, not a wildcard")
	ErrInvalidPort           = errors.New("port must be between 1 and 65535")
	ErrSeedsRequired         = errors.New("at least one seed is required")
	ErrInvalidGossipInterval = errors.New("gossip interval must be greater than 0")
	ErrInvalidRingDelay      = errors.New("ring delay must be greater than 0")
	ErrInvalidPhiThreshold   = errors.New("phi convict threshold must be greater than 0")
	ErrUnknownTransport      = errors.New("unknown transport")
	ErrUnknownDiscovery      = errors.New("unknown discovery kind")
	ErrEtcdEndpointsRequired = errors.New("etcd discovery needs at least one etcd endpoint")
	ErrNotManualGossip       = errors.New("node is not in manual gossip mode")
	ErrNodeNotStarted        = errors.New("node is not started")
	ErrRemoveSelf            = errors.New("a node cannot remove itself")
	ErrEndpointAlive         = errors.New("endpoint is alive; only a down endpoint can be removed")
)
