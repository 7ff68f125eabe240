package tracker

// Key layout in the tracking store:
//
//	view:<id>          hash   {id, host, path} of one open view
//	host:<host>        hash   field curr_visits = open views of host
//	toppages:<host>    zset   member path, score = open views of path
const (
	viewKeyPrefix     = "view:"
	hostKeyPrefix     = "host:"
	topPagesKeyPrefix = "toppages:"

	currentVisitsField = "curr_visits"
)

func viewKey(id string) string { return viewKeyPrefix + id }

func hostKey(host string) string { return hostKeyPrefix + host }

func topPagesKey(host string) string { return topPagesKeyPrefix + host }
