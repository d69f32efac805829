package calendar

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// FetchUSHolidays derives US market holidays between start and end
// (inclusive) from the Alpaca trading calendar API: any weekday the
// exchange calendar does not list as a session is a holiday. Used to
// regenerate the holiday list file for US-market installs; CN-market
// holiday lists are maintained by hand.
func FetchUSHolidays(apiKey, apiSecret, baseURL string, start, end Date) ([]Date, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	sessions, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start.Time(),
		End:   end.Time(),
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	open := make(map[Date]struct{}, len(sessions))
	for _, day := range sessions {
		d, err := ParseDate(day.Date)
		if err != nil {
			continue
		}
		open[d] = struct{}{}
	}

	var holidays []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if _, ok := open[d]; !ok {
			holidays = append(holidays, d)
		}
	}
	return holidays, nil
}
