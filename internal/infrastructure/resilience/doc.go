/*
Package resilience guards calls to outside dependencies with a circuit
breaker.

A Breaker starts closed. A run of Settings.Failures failed calls opens it;
while open, Do returns ErrOpen without calling the dependency. After
Settings.Cooldown one probe call is let through (half-open): Settings.Probes
successes close the breaker and a failure opens it again.

	b := resilience.New("manifest", resilience.Settings{Failures: 3, Cooldown: 10 * time.Second})
	body, err := resilience.Do(ctx, b, func(ctx context.Context) ([]byte, error) {
		return fetch(ctx, url)
	})

Cancelled and expired contexts are not counted as failures.
*/
package resilience
