package chat

// CatalogLookup supplies conversation metadata from the listing catalog:
// who the counterparty is and which item the thread is about. Read-only
// collaborator, treated as opaque.
type CatalogLookup interface {
	Conversations() ([]Conversation, error)
}

// IdentityProvider supplies the local user's id.
type IdentityProvider interface {
	LocalUserID() string
}

// StaticIdentity is a fixed local user id.
type StaticIdentity string

func (s StaticIdentity) LocalUserID() string { return string(s) }

// StaticCatalog serves a fixed conversation list. Demo data stands in
// for the real listing service.
type StaticCatalog []Conversation

func (s StaticCatalog) Conversations() ([]Conversation, error) {
	out := make([]Conversation, len(s))
	copy(out, s)
	return out, nil
}

// DemoCatalog is the seed data used by the demo and by cmd/chatd when
// no real catalog is wired in.
func DemoCatalog() StaticCatalog {
	return StaticCatalog{
		{
			ID:        "c-2041",
			PeerID:    "u-miguel",
			PeerName:  "Miguel Torres",
			ListingID: "veh-8812",
			Listing:   "2019 Toyota Corolla SE",
			Online:    true,
		},
		{
			ID:        "c-2042",
			PeerID:    "u-sandra",
			PeerName:  "Sandra Obi",
			ListingID: "veh-7455",
			Listing:   "2021 Ford Transit (rental)",
		},
		{
			ID:        "c-2043",
			PeerID:    "u-kwame",
			PeerName:  "Kwame Mensah",
			ListingID: "svc-1190",
			Listing:   "Full service - brake pads",
			Online:    true,
		},
	}
}
