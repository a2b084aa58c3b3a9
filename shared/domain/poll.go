package domain

type Poll struct {
	Id             PollId       `json:"id"`
	MessageId      MsgId        `json:"message_id"`
	Question       string       `json:"question"`
	MultipleChoice bool         `json:"multiple_choice"`
	Options        []PollOption `json:"options"`
}

// PollOption carries per-viewer tallies next to its stored fields.
type PollOption struct {
	Id        OptionId `json:"id"`
	PollId    PollId   `json:"poll_id"`
	Position  int      `json:"position"`
	Text      string   `json:"text"`
	VoteCount int      `json:"vote_count"`
	VotedByMe bool     `json:"voted_by_me"`
}

type Vote struct {
	PollId   PollId   `json:"poll_id"`
	OptionId OptionId `json:"option_id"`
	VoterId  UserId   `json:"voter_id"`
}

type PollCreationData struct {
	MessageId      MsgId
	Question       string
	MultipleChoice bool
}

func (p *Poll) Option(id OptionId) *PollOption {
	if p == nil {
		return nil
	}
	for i := range p.Options {
		if p.Options[i].Id == id {
			return &p.Options[i]
		}
	}
	return nil
}

func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = append([]PollOption(nil), p.Options...)
	return &c
}
