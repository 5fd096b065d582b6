/*
Package resilience holds the circuit breakers that sit in front of each
upstream host.

A Breaker moves between three states:

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[successes]-> Closed
	                                                |
	                                            [failure]
	                                                v
	                                              Open

While open, Do fails fast with ErrCircuitOpen so a site that is down or
banning the client is not hammered with challenge attempts. Half-open
admits MaxRequests probes; extra callers get ErrTooManyRequests.

The scraper keeps one breaker per host in a Group:

	breakers := resilience.NewGroup(resilience.UpstreamSettings())
	err := breakers.For(u.Host).Do(func() error {
		resp, err = client.Do(req)
		return err
	}, func(err error) bool { return errors.Is(err, context.Canceled) })

The ignore funcs passed to Do mark errors that say nothing about the host's
health; they neither trip nor heal the breaker.
*/
package resilience
