package profile

import "strings"

// Skill 是画像中的一项技能。
type Skill struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Experience 是画像中的一段工作经历。
type Experience struct {
	Role        string `json:"role"`
	Company     string `json:"company"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Description string `json:"description,omitempty"`
}

// CandidateProfile 是从简历中提取出的结构化画像。
// 每次提取都会重新产生；所有字段均可缺省。
type CandidateProfile struct {
	Name         string       `json:"name,omitempty"`
	Email        string       `json:"email,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	Skills       []Skill      `json:"skills"`
	Experiences  []Experience `json:"experiences"`
	Education    string       `json:"education,omitempty"`
	Achievements []string     `json:"achievements,omitempty"`
}

// Empty 判断画像是否为软失败：技能、经历、教育均为空。
func (p CandidateProfile) Empty() bool {
	return len(p.Skills) == 0 && len(p.Experiences) == 0 && strings.TrimSpace(p.Education) == ""
}

// Normalize 去重并修剪画像内容，保证重复处理同一份简历得到相同结果。
// 技能按小写名称去重，经历按（角色, 公司, 起始）去重，保持原有顺序。
func (p *CandidateProfile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Education = strings.TrimSpace(p.Education)

	seenSkills := make(map[string]struct{}, len(p.Skills))
	skills := p.Skills[:0]
	for _, s := range p.Skills {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		key := strings.ToLower(s.Name)
		if _, ok := seenSkills[key]; ok {
			continue
		}
		seenSkills[key] = struct{}{}
		skills = append(skills, s)
	}
	p.Skills = skills

	seenExp := make(map[string]struct{}, len(p.Experiences))
	experiences := p.Experiences[:0]
	for _, e := range p.Experiences {
		e.Role = strings.TrimSpace(e.Role)
		e.Company = strings.TrimSpace(e.Company)
		if e.Role == "" && e.Company == "" {
			continue
		}
		key := strings.ToLower(e.Role + "|" + e.Company + "|" + e.Start)
		if _, ok := seenExp[key]; ok {
			continue
		}
		seenExp[key] = struct{}{}
		experiences = append(experiences, e)
	}
	p.Experiences = experiences

	seenAch := make(map[string]struct{}, len(p.Achievements))
	achievements := p.Achievements[:0]
	for _, a := range p.Achievements {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seenAch[a]; ok {
			continue
		}
		seenAch[a] = struct{}{}
		achievements = append(achievements, a)
	}
	p.Achievements = achievements
}
