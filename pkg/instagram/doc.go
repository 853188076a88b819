// Package instagram provides the platform client used by the collector.
//
// A Client is one authenticated conversation with the private mobile API:
// it logs in, carries device identifiers and cookies as an exportable
// settings blob, probes liveness and walks paginated profile and hashtag
// feeds. Every platform failure is returned as a typed *errors.Error whose
// type is one of the failure classes the login loop reacts to:
//
//	stale_session       login_required, or no stored authorization
//	challenge_required  the account must pass a checkpoint
//	soft_restriction    feedback_required (action blocked)
//	cooldown            "Please wait a few minutes"
//	unclassified        anything else, including network errors
//
// Example usage:
//
//	factory := instagram.NewFactory(cfg.Platform, cfg.RateLimit, log)
//	client := factory()
//	if err := client.ImportSettings(session.Settings); err != nil {
//	    // stored settings are unusable, log in again
//	}
//	if err := client.ProbeLiveness(ctx); errors.Is(err, errors.ErrorTypeStaleSession) {
//	    client.ResetSettings(true)
//	    err = client.Login(ctx, session.Username, session.Secret)
//	}
//	page, err := client.FetchPage(ctx, models.Target{Kind: models.TargetProfile, Name: "nasa"}, "")
package instagram
