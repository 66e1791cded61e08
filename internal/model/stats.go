package model

type Stats struct {
	Sessions      int `json:"sessions"`
	HostsOnline   int `json:"hostsOnline"`
	Remotes       int `json:"remotes"`
	RemotesOnline int `json:"remotesOnline"`
	PairCodes     int `json:"pairCodes"`
	Connections   int `json:"connections"`
}
