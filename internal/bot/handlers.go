package bot

import (
	"context"
	"fmt"

	"swagsearch/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to SwagSearch!

Save search filters and get an alert the moment a matching listing
appears on Yahoo Auctions or Mercari.

Quick start:
1. /addfilter name=rick brands=Rick Owens - watch a brand
2. /filters - show your saved filters

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Filter management:
/addfilter name=<name> [brands=a,b] [keywords=x,y] [price=min-max] [markets=yahoo,mercari]
    - save a new search filter
/filters - show your filters
/delfilter <id> - delete a filter
/pausefilter <id> - stop alerts for a filter
/resumefilter <id> - resume alerts for a filter

Examples:
/addfilter name=rick brands=Rick Owens price=20000-50000 markets=yahoo
/addfilter name=tabi keywords=tabi,boots price=-80000

Unset fields match everything. Prices are in JPY.`)
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string) {
	f, err := ParseFilterSpec(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v\nUsage: /addfilter name=<name> [brands=a,b] [keywords=x,y] [price=min-max] [markets=yahoo,mercari]", err))
		return
	}

	f.OwnerID = chatID
	f.Active = true
	if err := b.store.CreateFilter(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save filter: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Filter F%d %q saved.\n%s", f.ID, f.Name, FormatFilter(*f)))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFiltersByOwner(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFilterList(filters))
}

func (b *Bot) handleDelFilter(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delfilter <id>")
		return
	}

	f, err := b.ownedFilter(ctx, chatID, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	if err := b.store.DeleteFilter(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Filter F%d %q deleted.", id, f.Name))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /resumefilter <id>")
		} else {
			b.reply(chatID, "Usage: /pausefilter <id>")
		}
		return
	}

	f, err := b.ownedFilter(ctx, chatID, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}

	f.Active = active
	if err := b.store.UpdateFilter(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	verb := "paused"
	if active {
		verb = "resumed"
	}
	b.reply(chatID, fmt.Sprintf("Filter F%d %q %s.", id, f.Name, verb))
}

// ownedFilter loads a filter only when it belongs to the requesting
// chat; other users' filters read as not found.
func (b *Bot) ownedFilter(ctx context.Context, chatID, id int64) (*model.UserFilter, error) {
	f, err := b.store.GetFilter(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != chatID {
		return nil, fmt.Errorf("filter %d not owned by chat %d", id, chatID)
	}
	return f, nil
}
